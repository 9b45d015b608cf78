// Package rpmlint runs the rpmlint static analyzer against a generated
// package definition.
//
// Note that rpmlint returns non-zero for warnings as well as errors. Pure
// warnings are tolerated: the run only fails when the tool output carries an
// error marker. A missing rpmlint binary skips validation entirely.
package rpmlint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrValidationFailed means rpmlint reported at least one error. The raw
// tool output is attached for diagnostics.
var ErrValidationFailed = errors.New("spec validation failed")

const DefaultBinary = "rpmlint"

type Linter struct {
	// Binary is the lint tool to execute. Empty means DefaultBinary.
	Binary string
}

type Result struct {
	// Skipped is set when the lint binary is not installed.
	Skipped bool

	// Warnings holds the raw tool output when rpmlint exited non-zero
	// without reporting an error.
	Warnings string
}

// Run lints the definition at specPath. Exit code zero passes. On non-zero
// exit the combined output decides: an "error" marker fails the run, anything
// else is warnings only.
func (l *Linter) Run(ctx context.Context, specPath string) (*Result, error) {
	binary := l.Binary
	if binary == "" {
		binary = DefaultBinary
	}

	cmd := exec.CommandContext(ctx, binary, specPath)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if err == nil {
		return &Result{}, nil
	}

	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		logrus.WithField("binary", binary).Warn("Lint tool not installed, skipping validation")
		return &Result{Skipped: true}, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("running %s: %w", binary, err)
	}

	if strings.Contains(strings.ToLower(output.String()), "error") {
		return nil, fmt.Errorf("%w:\n%s", ErrValidationFailed, output.String())
	}

	return &Result{Warnings: output.String()}, nil
}
