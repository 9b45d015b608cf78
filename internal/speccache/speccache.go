// Package speccache persists generated package definitions keyed by driver
// version. An entry is only ever created whole: artifacts are staged in a
// temporary directory and renamed into place, so other invocations never see
// a partial entry. Entries are immutable once cached.
package speccache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/maccel-img/buildtools/internal/jsondb"
)

// ErrCacheWrite means an entry could not be persisted. The staging directory
// is discarded, the cache is left as it was.
var ErrCacheWrite = errors.New("cache write failed")

// File names inside one cache entry. An entry is valid only if all three
// exist; a partial entry counts as a miss and is regenerated, never repaired.
const (
	KmodSpecFile = "maccel-kmod.spec"
	CLISpecFile  = "maccel-cli.spec"
	MetadataFile = "metadata.json"
)

const metadataName = "metadata"

const filePerm = os.FileMode(0644)

// Info is the metadata record stored next to the generated definitions.
type Info struct {
	Version          string    `json:"version"`
	Generated        time.Time `json:"generated"`
	SourceURL        string    `json:"source_url"`
	License          string    `json:"license"`
	GeneratorVersion string    `json:"generator_version"`
	UpstreamCommit   string    `json:"upstream_commit"`
	ChangelogEntries int       `json:"changelog_entries"`
}

type Entry struct {
	Version      string
	KmodSpecPath string
	CLISpecPath  string
	Info         Info
}

type Store struct {
	root string
}

func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating cache root: %w", err)
	}
	return &Store{root: root}, nil
}

// Check reports whether a complete entry exists for version.
func (s *Store) Check(version string) (*Entry, bool, error) {
	dir := filepath.Join(s.root, version)

	for _, name := range []string{KmodSpecFile, CLISpecFile, MetadataFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			if os.IsNotExist(err) {
				return nil, false, nil
			}
			return nil, false, err
		}
	}

	var info Info
	exist, err := jsondb.New(dir, filePerm).Read(metadataName, &info)
	if err != nil || !exist {
		return nil, false, err
	}

	return &Entry{
		Version:      version,
		KmodSpecPath: filepath.Join(dir, KmodSpecFile),
		CLISpecPath:  filepath.Join(dir, CLISpecFile),
		Info:         info,
	}, true, nil
}

// Persist writes a new entry for version. An existing entry is replaced
// whole. The staging directory name is randomized, so two writers for the
// same version never interleave within one directory; the last rename wins.
func (s *Store) Persist(version, kmodSpec, cliSpec string, info Info) (*Entry, error) {
	if info.Generated.IsZero() {
		info.Generated = time.Now()
	}
	info.Generated = info.Generated.UTC()
	info.Version = version

	staging, err := os.MkdirTemp(s.root, ".staging-"+version+"-")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheWrite, err)
	}

	entry, err := s.fill(staging, version, kmodSpec, cliSpec, info)
	if err != nil {
		os.RemoveAll(staging)
		return nil, fmt.Errorf("%w: %v", ErrCacheWrite, err)
	}
	return entry, nil
}

func (s *Store) fill(staging, version, kmodSpec, cliSpec string, info Info) (*Entry, error) {
	if err := os.WriteFile(filepath.Join(staging, KmodSpecFile), []byte(kmodSpec), filePerm); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(staging, CLISpecFile), []byte(cliSpec), filePerm); err != nil {
		return nil, err
	}
	if err := jsondb.New(staging, filePerm).Write(metadataName, info); err != nil {
		return nil, err
	}

	dir := filepath.Join(s.root, version)
	if err := os.RemoveAll(dir); err != nil {
		return nil, err
	}
	if err := os.Rename(staging, dir); err != nil {
		return nil, err
	}

	return &Entry{
		Version:      version,
		KmodSpecPath: filepath.Join(dir, KmodSpecFile),
		CLISpecPath:  filepath.Join(dir, CLISpecFile),
		Info:         info,
	}, nil
}
