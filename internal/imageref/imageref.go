// Package imageref inspects and verifies the published container image by
// shelling out to skopeo and cosign. Both tools are consumed as black boxes;
// only their exit codes and JSON output are interpreted.
package imageref

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrSignatureInvalid means cosign rejected the image signature.
var ErrSignatureInvalid = errors.New("image signature verification failed")

const (
	DefaultSkopeoBinary = "skopeo"
	DefaultCosignBinary = "cosign"
)

type Inspector struct {
	SkopeoBinary string
	CosignBinary string
}

type ImageInfo struct {
	Created time.Time
	Labels  map[string]string
	Digest  string
}

// OlderThan reports whether the image was created more than maxAge before
// now.
func (info *ImageInfo) OlderThan(now time.Time, maxAge time.Duration) bool {
	return now.Sub(info.Created) > maxAge
}

// KernelVersion returns the kernel the image was built for, taken from the
// ostree.linux label the image build stamps in. Empty when unlabeled.
func (info *ImageInfo) KernelVersion() string {
	return info.Labels["ostree.linux"]
}

// Inspect runs skopeo inspect against the image and parses creation time,
// digest and labels out of its JSON output.
func (i *Inspector) Inspect(ctx context.Context, ref string) (*ImageInfo, error) {
	binary := i.SkopeoBinary
	if binary == "" {
		binary = DefaultSkopeoBinary
	}

	cmd := exec.CommandContext(ctx, binary, "inspect", "docker://"+ref)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("skopeo inspect %q failed: %v\n%s", ref, err, stderr.String())
	}

	var raw struct {
		Created time.Time         `json:"Created"`
		Digest  string            `json:"Digest"`
		Labels  map[string]string `json:"Labels"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return nil, fmt.Errorf("parsing skopeo inspect output: %w", err)
	}

	return &ImageInfo{
		Created: raw.Created,
		Labels:  raw.Labels,
		Digest:  raw.Digest,
	}, nil
}

type VerifyResult struct {
	// Skipped is set when the cosign binary is not installed.
	Skipped bool
}

// VerifySignature runs keyless cosign verification against the image. A
// missing cosign binary skips the check; a non-zero exit fails it.
func (i *Inspector) VerifySignature(ctx context.Context, ref, certIdentity, certIssuer string) (*VerifyResult, error) {
	binary := i.CosignBinary
	if binary == "" {
		binary = DefaultCosignBinary
	}

	cmd := exec.CommandContext(ctx, binary, "verify", ref,
		"--certificate-identity", certIdentity,
		"--certificate-oidc-issuer", certIssuer,
	)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if err == nil {
		return &VerifyResult{}, nil
	}

	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		logrus.WithField("binary", binary).Warn("cosign not installed, skipping signature verification")
		return &VerifyResult{Skipped: true}, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("running %s: %w", binary, err)
	}

	return nil, fmt.Errorf("%w: %s\n%s", ErrSignatureInvalid, ref, output.String())
}
