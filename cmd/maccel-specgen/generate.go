package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maccel-img/buildtools/internal/buildconfig"
	"github.com/maccel-img/buildtools/internal/rpmlint"
	"github.com/maccel-img/buildtools/internal/rpmspec"
	"github.com/maccel-img/buildtools/internal/speccache"
	"github.com/maccel-img/buildtools/internal/upstream"
)

var errInvalidVersion = errors.New("invalid version")

type options struct {
	version string
	force   bool
	dryRun  bool
}

// generate runs the full pipeline: resolve, cache check, fetch, render,
// validate, persist. It returns the cache entry to export, or nil for a dry
// run. No partial entry is ever left visible: rendered definitions live in a
// discarded temp directory until they pass validation.
func generate(ctx context.Context, config *buildconfig.Config, opts options) (*speccache.Entry, error) {
	token, err := config.Token()
	if err != nil {
		return nil, fmt.Errorf("reading API token: %w", err)
	}

	client, err := upstream.NewClient(upstream.ClientConfig{
		BaseURL: config.Upstream.APIURL,
		Owner:   config.Upstream.Owner,
		Repo:    config.Upstream.Repo,
		Token:   token,
		Logger:  logrus.StandardLogger(),
	})
	if err != nil {
		return nil, err
	}

	store, err := speccache.New(config.Cache.Root)
	if err != nil {
		return nil, err
	}

	return run(ctx, config, client, store, &rpmlint.Linter{}, opts)
}

func run(ctx context.Context, config *buildconfig.Config, client *upstream.Client, store *speccache.Store, linter *rpmlint.Linter, opts options) (*speccache.Entry, error) {
	version, err := client.ResolveVersion(ctx, opts.version)
	if err != nil {
		return nil, err
	}
	if !upstream.VerifyVersion(version) {
		return nil, fmt.Errorf("%w: %q", errInvalidVersion, version)
	}
	logrus.WithField("version", version).Info("Resolved driver version")

	if !opts.force && !opts.dryRun {
		entry, hit, err := store.Check(version)
		if err != nil {
			return nil, err
		}
		if hit {
			logrus.WithFields(logrus.Fields{
				"version":   version,
				"generated": entry.Info.Generated,
			}).Info("Cache hit, reusing generated definitions")
			return entry, nil
		}
	}

	md, err := client.Metadata(ctx, version)
	if err != nil {
		return nil, err
	}

	packager := fmt.Sprintf("%s <%s>", config.Packager.Name, config.Packager.Email)
	vals := rpmspec.Values{
		Version:   md.Version,
		License:   md.License,
		SourceURL: md.SourceURL,
		Changelog: rpmspec.FormatChangelog(version, md.Changelog, packager, time.Now()),
	}

	kmodSpec, err := rpmspec.Render(filepath.Join(config.Cache.TemplatesDir, rpmspec.TemplateKmod), vals)
	if err != nil {
		return nil, err
	}
	cliSpec, err := rpmspec.Render(filepath.Join(config.Cache.TemplatesDir, rpmspec.TemplateCLI), vals)
	if err != nil {
		return nil, err
	}

	if err := validate(ctx, linter, kmodSpec, cliSpec); err != nil {
		return nil, err
	}

	if opts.dryRun {
		logrus.WithField("version", version).Info("Dry run, not writing cache entry")
		return nil, nil
	}

	entry, err := store.Persist(version, kmodSpec, cliSpec, speccache.Info{
		SourceURL:        md.SourceURL,
		License:          md.License,
		GeneratorVersion: generatorVersion,
		UpstreamCommit:   md.Commit,
		ChangelogEntries: rpmspec.ChangelogEntries(version, md.Changelog),
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"version": version,
		"kmod":    entry.KmodSpecPath,
		"cli":     entry.CLISpecPath,
	}).Info("Cached generated definitions")
	return entry, nil
}

// validate lints both rendered definitions from a temp directory that never
// becomes part of the cache.
func validate(ctx context.Context, linter *rpmlint.Linter, kmodSpec, cliSpec string) error {
	staging, err := os.MkdirTemp("", "maccel-specgen-lint-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	for name, content := range map[string]string{
		speccache.KmodSpecFile: kmodSpec,
		speccache.CLISpecFile:  cliSpec,
	} {
		path := filepath.Join(staging, name)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return err
		}

		result, err := linter.Run(ctx, path)
		if err != nil {
			return err
		}
		if result.Skipped {
			continue
		}
		if result.Warnings != "" {
			logrus.WithField("spec", name).Warnf("Lint warnings:\n%s", result.Warnings)
		}
	}
	return nil
}
