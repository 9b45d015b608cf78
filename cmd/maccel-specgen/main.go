// maccel-specgen generates the RPM package definitions for one maccel driver
// version and prints their paths as export statements for the image build
// pipeline. Generated definitions are cached per version; a complete cache
// entry short-circuits the whole pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/maccel-img/buildtools/internal/buildconfig"
	"github.com/maccel-img/buildtools/internal/rpmlint"
	"github.com/maccel-img/buildtools/internal/rpmspec"
	"github.com/maccel-img/buildtools/internal/speccache"
	"github.com/maccel-img/buildtools/internal/upstream"
)

// generatorVersion is recorded in every cache entry's metadata so stale
// entries can be traced back to the generator that wrote them.
const generatorVersion = "2.1.0"

// Exit codes, kept stable for the surrounding build pipeline.
const (
	exitOK                = 0
	exitError             = 1
	exitInvalidVersion    = 2
	exitTemplateMissing   = 3
	exitValidationFailed  = 4
	exitUpstreamUnreached = 5
)

func main() {
	var opts options
	var configPath string

	flag.StringVar(&opts.version, "version", os.Getenv("MACCEL_VERSION"),
		"pinned driver version (default: latest upstream release, env MACCEL_VERSION)")
	flag.BoolVar(&opts.force, "force", os.Getenv("MACCEL_FORCE") == "1" || os.Getenv("MACCEL_FORCE") == "true",
		"regenerate even when a cache entry exists (env MACCEL_FORCE)")
	flag.BoolVar(&opts.dryRun, "dry-run", false,
		"resolve, render and validate without writing the cache")
	flag.StringVar(&configPath, "config", buildconfig.DefaultPath, "configuration file")
	flag.Parse()

	// export statements go to stdout, everything else to stderr
	logrus.SetOutput(os.Stderr)

	config, err := buildconfig.Load(configPath)
	if err != nil {
		logrus.Errorf("Could not load config file '%s': %v", configPath, err)
		os.Exit(exitError)
	}

	entry, err := generate(context.Background(), config, opts)
	if err != nil {
		logrus.Errorf("Spec generation failed: %v", err)
		os.Exit(exitCode(err))
	}

	if entry != nil {
		fmt.Printf("export MACCEL_KMOD_SPEC=%s\n", entry.KmodSpecPath)
		fmt.Printf("export MACCEL_CLI_SPEC=%s\n", entry.CLISpecPath)
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, upstream.ErrVersionNotFound), errors.Is(err, errInvalidVersion):
		return exitInvalidVersion
	case errors.Is(err, rpmspec.ErrTemplateMissing):
		return exitTemplateMissing
	case errors.Is(err, rpmlint.ErrValidationFailed):
		return exitValidationFailed
	case errors.Is(err, upstream.ErrUpstreamUnreachable), errors.Is(err, upstream.ErrMetadataUnavailable):
		return exitUpstreamUnreached
	case errors.Is(err, speccache.ErrCacheWrite):
		return exitError
	default:
		return exitError
	}
}
