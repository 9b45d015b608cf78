// maccel-healthcheck verifies the maccel driver installation on a running
// image. It is meant to run from a systemd unit or a CI smoke test; with
// -journal its results land in the host journal.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/maccel-img/buildtools/internal/common"
	"github.com/maccel-img/buildtools/internal/drivercheck"
)

func main() {
	var (
		root       string
		cliBinary  string
		useJournal bool
	)

	flag.StringVar(&root, "root", "", "treat this directory as the filesystem root (for testing)")
	flag.StringVar(&cliBinary, "cli", "", "maccel CLI binary to probe (default: maccel from PATH)")
	flag.BoolVar(&useJournal, "journal", false, "log results to the systemd journal")
	flag.Parse()

	if useJournal {
		logrus.AddHook(&common.JournalHook{})
	}

	checker := &drivercheck.Checker{Root: root, CLIBinary: cliBinary}
	probes := checker.Run(context.Background())

	for _, probe := range probes {
		entry := logrus.WithFields(logrus.Fields{
			"check":  probe.Name,
			"status": probe.Status,
		})
		switch probe.Status {
		case drivercheck.StatusPass:
			entry.Info(probe.Detail)
		case drivercheck.StatusWarn:
			entry.Warn(probe.Detail)
		case drivercheck.StatusFail:
			entry.Error(probe.Detail)
		}
	}

	if drivercheck.Failed(probes) {
		logrus.Error("maccel driver health check failed")
		os.Exit(1)
	}
	logrus.Info("maccel driver is healthy")
}
