// maccel-build-wait triggers the companion RPM-builder repository for a
// kernel/driver version pair, waits for the dispatched workflow run to finish
// and downloads the built RPMs. The wait is a plain polling loop: the whole
// process blocks until the run completes or the wait budget runs out.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maccel-img/buildtools/internal/buildconfig"
	"github.com/maccel-img/buildtools/internal/builder"
)

const (
	exitOK      = 0
	exitError   = 1
	exitNetwork = 5
)

func main() {
	var (
		kernelVersion string
		driverVersion string
		destDir       string
		pattern       string
		interval      time.Duration
		timeout       time.Duration
		configPath    string
	)

	flag.StringVar(&kernelVersion, "kernel", "", "kernel version to build the module against (required)")
	flag.StringVar(&driverVersion, "driver", "", "maccel driver version (required)")
	flag.StringVar(&destDir, "dest", "rpms", "directory to place downloaded RPMs in")
	flag.StringVar(&pattern, "pattern", "maccel-rpms-*", "artifact name pattern to download")
	flag.DurationVar(&interval, "interval", 30*time.Second, "polling interval")
	flag.DurationVar(&timeout, "timeout", 45*time.Minute, "total wait budget")
	flag.StringVar(&configPath, "config", buildconfig.DefaultPath, "configuration file")
	flag.Parse()

	if kernelVersion == "" || driverVersion == "" {
		flag.Usage()
		os.Exit(2)
	}

	config, err := buildconfig.Load(configPath)
	if err != nil {
		logrus.Fatalf("Could not load config file '%s': %v", configPath, err)
	}

	token, err := config.Token()
	if err != nil {
		logrus.Fatalf("Could not read API token: %v", err)
	}
	if token == "" {
		logrus.Fatal("Dispatching builder workflows requires an API token (GITHUB_TOKEN or token_path)")
	}

	client, err := builder.NewClient(builder.ClientConfig{
		BaseURL:      config.Builder.APIURL,
		Owner:        config.Builder.Owner,
		Repo:         config.Builder.Repo,
		WorkflowFile: config.Builder.WorkflowFile,
		Ref:          config.Builder.Ref,
		Token:        token,
		Logger:       logrus.StandardLogger(),
	})
	if err != nil {
		logrus.Fatalf("%v", err)
	}

	rpms, err := build(context.Background(), client, kernelVersion, driverVersion, destDir, pattern, interval, timeout)
	if err != nil {
		logrus.Errorf("Builder run failed: %v", err)
		if errors.Is(err, builder.ErrRunNotFound) {
			os.Exit(exitNetwork)
		}
		os.Exit(exitError)
	}

	for _, rpm := range rpms {
		fmt.Println(rpm)
	}
}

func build(ctx context.Context, client *builder.Client, kernelVersion, driverVersion, destDir, pattern string, interval, timeout time.Duration) ([]string, error) {
	correlationID, err := client.Dispatch(ctx, kernelVersion, driverVersion)
	if err != nil {
		return nil, err
	}

	run, err := client.FindRun(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"run":            run.ID,
		"correlation_id": correlationID,
	}).Info("Found dispatched builder run")

	run, err = client.WaitForRun(ctx, run.ID, interval, timeout)
	if err != nil {
		return nil, err
	}
	logrus.WithField("run", run.ID).Info("Builder run succeeded")

	return client.DownloadRPMs(ctx, run.ID, destDir, pattern)
}
