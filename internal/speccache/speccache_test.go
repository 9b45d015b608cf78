package speccache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInfo(version string) Info {
	return Info{
		SourceURL:        "https://github.com/Gnarus-G/maccel/archive/refs/tags/v" + version + ".tar.gz",
		License:          "GPL-2.0",
		GeneratorVersion: "1",
		UpstreamCommit:   "f00dfeed",
		ChangelogEntries: 2,
	}
}

func TestMissOnEmptyCache(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)

	_, hit, err := store.Check("0.4.1")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestPersistThenHit(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	entry, err := store.Persist("0.4.1", "kmod spec\n", "cli spec\n", testInfo("0.4.1"))
	require.NoError(t, err)
	assert.Equal(t, "0.4.1", entry.Info.Version)
	assert.False(t, entry.Info.Generated.IsZero())
	assert.Equal(t, time.UTC, entry.Info.Generated.Location())

	got, hit, err := store.Check("0.4.1")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, entry.KmodSpecPath, got.KmodSpecPath)
	assert.Equal(t, entry.CLISpecPath, got.CLISpecPath)
	assert.Equal(t, "GPL-2.0", got.Info.License)

	content, err := os.ReadFile(got.KmodSpecPath)
	require.NoError(t, err)
	assert.Equal(t, "kmod spec\n", string(content))
}

// Deleting any one of the three files converts a hit into a miss.
func TestPartialEntryIsMiss(t *testing.T) {
	for _, name := range []string{KmodSpecFile, CLISpecFile, MetadataFile} {
		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			store, err := New(root)
			require.NoError(t, err)

			_, err = store.Persist("0.4.1", "kmod", "cli", testInfo("0.4.1"))
			require.NoError(t, err)

			require.NoError(t, os.Remove(filepath.Join(root, "0.4.1", name)))

			_, hit, err := store.Check("0.4.1")
			require.NoError(t, err)
			assert.False(t, hit)
		})
	}
}

func TestPersistReplacesEntryWhole(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	oldInfo := testInfo("0.4.1")
	oldInfo.Generated = time.Now().Add(-time.Hour)
	first, err := store.Persist("0.4.1", "old kmod", "old cli", oldInfo)
	require.NoError(t, err)

	second, err := store.Persist("0.4.1", "new kmod", "new cli", testInfo("0.4.1"))
	require.NoError(t, err)

	// generation timestamp strictly advances
	assert.True(t, second.Info.Generated.After(first.Info.Generated))

	got, hit, err := store.Check("0.4.1")
	require.NoError(t, err)
	require.True(t, hit)

	content, err := os.ReadFile(got.KmodSpecPath)
	require.NoError(t, err)
	assert.Equal(t, "new kmod", string(content))
}

func TestNoStagingLeftBehind(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	require.NoError(t, err)

	_, err = store.Persist("0.4.1", "kmod", "cli", testInfo("0.4.1"))
	require.NoError(t, err)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".staging-"), "stray staging dir %s", e.Name())
	}
}

func TestEntriesAreIndependent(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = store.Persist("0.4.0", "kmod40", "cli40", testInfo("0.4.0"))
	require.NoError(t, err)
	_, err = store.Persist("0.4.1", "kmod41", "cli41", testInfo("0.4.1"))
	require.NoError(t, err)

	got, hit, err := store.Check("0.4.0")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "0.4.0", got.Info.Version)
}
