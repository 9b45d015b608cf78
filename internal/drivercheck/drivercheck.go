// Package drivercheck probes a running image for a healthy maccel driver
// installation: kernel module loaded, parameters exposed, udev rule in place
// and the CLI present.
package drivercheck

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

type Probe struct {
	Name   string
	Status Status
	Detail string
}

type Checker struct {
	// Root is prepended to all filesystem paths. Empty means the host
	// root; tests point it at a fixture tree.
	Root string

	// CLIBinary overrides the maccel CLI to execute. Empty means "maccel"
	// resolved via PATH.
	CLIBinary string
}

const (
	moduleName   = "maccel"
	udevRulePath = "usr/lib/udev/rules.d/99-maccel.rules"
)

// Run executes all probes. It never stops early: a broken installation
// should report everything that is wrong with it at once.
func (c *Checker) Run(ctx context.Context) []Probe {
	return []Probe{
		c.moduleLoaded(),
		c.parametersExposed(),
		c.udevRulePresent(),
		c.cliMatchesModule(ctx),
	}
}

// Failed reports whether any probe failed. Warnings do not fail a check run.
func Failed(probes []Probe) bool {
	for _, p := range probes {
		if p.Status == StatusFail {
			return true
		}
	}
	return false
}

func (c *Checker) path(elem ...string) string {
	return filepath.Join(append([]string{c.Root, "/"}, elem...)...)
}

func (c *Checker) moduleLoaded() Probe {
	probe := Probe{Name: "kernel_module"}

	f, err := os.Open(c.path("proc", "modules"))
	if err != nil {
		probe.Status = StatusFail
		probe.Detail = fmt.Sprintf("cannot read module list: %v", err)
		return probe
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 && fields[0] == moduleName {
			probe.Status = StatusPass
			return probe
		}
	}

	probe.Status = StatusFail
	probe.Detail = "maccel module is not loaded"
	return probe
}

func (c *Checker) parametersExposed() Probe {
	probe := Probe{Name: "module_parameters"}

	entries, err := os.ReadDir(c.path("sys", "module", moduleName, "parameters"))
	if err != nil {
		probe.Status = StatusFail
		probe.Detail = fmt.Sprintf("parameter directory unavailable: %v", err)
		return probe
	}
	if len(entries) == 0 {
		probe.Status = StatusFail
		probe.Detail = "parameter directory is empty"
		return probe
	}

	probe.Status = StatusPass
	probe.Detail = fmt.Sprintf("%d parameters exposed", len(entries))
	return probe
}

func (c *Checker) udevRulePresent() Probe {
	probe := Probe{Name: "udev_rule"}

	if _, err := os.Stat(c.path(udevRulePath)); err != nil {
		probe.Status = StatusFail
		probe.Detail = fmt.Sprintf("udev rule missing: %v", err)
		return probe
	}

	probe.Status = StatusPass
	return probe
}

// cliMatchesModule checks the CLI is installed and, when the module exposes
// a version, that both agree. A version mismatch is only a warning: the CLI
// package can lag one image rebuild behind the kmod.
func (c *Checker) cliMatchesModule(ctx context.Context) Probe {
	probe := Probe{Name: "cli_version"}

	binary := c.CLIBinary
	if binary == "" {
		binary = "maccel"
	}

	out, err := exec.CommandContext(ctx, binary, "--version").CombinedOutput()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			probe.Detail = "maccel CLI is not installed"
		} else {
			probe.Detail = fmt.Sprintf("maccel --version failed: %v", err)
		}
		probe.Status = StatusFail
		return probe
	}
	cliVersion := parseCLIVersion(string(out))

	moduleVersion := c.moduleVersion()
	if cliVersion == "" || moduleVersion == "" {
		probe.Status = StatusPass
		probe.Detail = "version comparison not possible"
		return probe
	}

	if cliVersion != moduleVersion {
		probe.Status = StatusWarn
		probe.Detail = fmt.Sprintf("CLI %s does not match module %s", cliVersion, moduleVersion)
		return probe
	}

	probe.Status = StatusPass
	probe.Detail = cliVersion
	return probe
}

func (c *Checker) moduleVersion() string {
	raw, err := os.ReadFile(c.path("sys", "module", moduleName, "version"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

// parseCLIVersion extracts the version from "maccel 0.4.1" style output.
func parseCLIVersion(out string) string {
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimPrefix(fields[len(fields)-1], "v")
}
