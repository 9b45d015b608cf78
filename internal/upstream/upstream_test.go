package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maccel-img/buildtools/internal/retrier"
)

func testRetrier(delays *[]time.Duration) *retrier.Retrier {
	return &retrier.Retrier{
		Attempts:  3,
		BaseDelay: 5 * time.Second,
		Sleep: func(d time.Duration) {
			if delays != nil {
				*delays = append(*delays, d)
			}
		},
	}
}

func testClient(t *testing.T, handler http.Handler, delays *[]time.Duration) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{
		BaseURL: server.URL,
		Owner:   "Gnarus-G",
		Repo:    "maccel",
		Retrier: testRetrier(delays),
	})
	require.NoError(t, err)
	return client
}

func TestVerifyVersion(t *testing.T) {
	assert.True(t, VerifyVersion("0.4.1"))
	assert.True(t, VerifyVersion("1.0.0-rc.1"))
	assert.False(t, VerifyVersion("v0.4.1"))
	assert.False(t, VerifyVersion("0.4"))
	assert.False(t, VerifyVersion(""))
	assert.False(t, VerifyVersion("latest"))
}

func TestStripTagMarker(t *testing.T) {
	assert.Equal(t, "0.4.1", StripTagMarker("v0.4.1"))
	assert.Equal(t, "0.4.1", StripTagMarker("0.4.1"))
}

func TestResolveVersionLatest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/Gnarus-G/maccel/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tag_name": "v0.4.1", "body": ""}`))
	})
	client := testClient(t, mux, nil)

	ver, err := client.ResolveVersion(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "0.4.1", ver)
}

func TestResolveVersionPinned(t *testing.T) {
	requested := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/Gnarus-G/maccel/releases/tags/v0.4.1", func(w http.ResponseWriter, r *http.Request) {
		requested++
		w.Write([]byte(`{"tag_name": "v0.4.1"}`))
	})
	client := testClient(t, mux, nil)

	// the tag marker is stripped before the upstream lookup
	ver, err := client.ResolveVersion(context.Background(), "v0.4.1")
	require.NoError(t, err)
	assert.Equal(t, "0.4.1", ver)
	assert.Equal(t, 1, requested)

	// resolving the same pinned version again yields the same result
	again, err := client.ResolveVersion(context.Background(), "0.4.1")
	require.NoError(t, err)
	assert.Equal(t, ver, again)
}

func TestResolveVersionPinnedNotFound(t *testing.T) {
	requested := 0
	var delays []time.Duration
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested++
		http.NotFound(w, r)
	}), &delays)

	_, err := client.ResolveVersion(context.Background(), "9.9.9")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVersionNotFound)
	assert.Equal(t, 3, requested)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, delays)
}

func TestResolveVersionLatestUnreachable(t *testing.T) {
	requested := 0
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested++
		w.WriteHeader(http.StatusBadGateway)
	}), nil)

	_, err := client.ResolveVersion(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamUnreachable)
	assert.Equal(t, 3, requested)
}

func TestMetadata(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/Gnarus-G/maccel/license", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"license": {"spdx_id": "GPL-2.0"}}`))
	})
	mux.HandleFunc("/repos/Gnarus-G/maccel/releases/tags/v0.4.1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tag_name": "v0.4.1", "body": "- Fixed sensor drift\n- New curve parameter"}`))
	})
	mux.HandleFunc("/repos/Gnarus-G/maccel/git/ref/tags/v0.4.1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"object": {"sha": "f00dfeed"}}`))
	})
	client := testClient(t, mux, nil)

	md, err := client.Metadata(context.Background(), "0.4.1")
	require.NoError(t, err)

	want := Metadata{
		Version:   "0.4.1",
		License:   "GPL-2.0",
		Changelog: "- Fixed sensor drift\n- New curve parameter",
		SourceURL: "https://github.com/Gnarus-G/maccel/archive/refs/tags/v0.4.1.tar.gz",
		Commit:    "f00dfeed",
	}
	if diff := cmp.Diff(want, md); diff != "" {
		t.Errorf("unexpected metadata (-want +got):\n%s", diff)
	}
}

func TestMetadataLicenseFailureIsFatal(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}), nil)

	_, err := client.Metadata(context.Background(), "0.4.1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMetadataUnavailable)
}

func TestMetadataDegradesGracefully(t *testing.T) {
	// license is available but changelog and commit lookups fail
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/Gnarus-G/maccel/license", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"license": {"spdx_id": "GPL-2.0"}}`))
	})
	client := testClient(t, mux, nil)

	md, err := client.Metadata(context.Background(), "0.4.1")
	require.NoError(t, err)
	assert.Equal(t, "Update to version 0.4.1", md.Changelog)
	assert.Equal(t, UnknownCommit, md.Commit)
}

func TestMetadataEmptyChangelogBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/Gnarus-G/maccel/license", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"license": {"spdx_id": "GPL-2.0"}}`))
	})
	mux.HandleFunc("/repos/Gnarus-G/maccel/releases/tags/v0.4.1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tag_name": "v0.4.1", "body": "  \n"}`))
	})
	mux.HandleFunc("/repos/Gnarus-G/maccel/git/ref/tags/v0.4.1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"object": {"sha": "f00dfeed"}}`))
	})
	client := testClient(t, mux, nil)

	md, err := client.Metadata(context.Background(), "0.4.1")
	require.NoError(t, err)
	assert.Equal(t, DefaultChangelog("0.4.1"), md.Changelog)
}

func TestAuthorizationHeader(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte(`{"tag_name": "v0.4.1"}`))
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{
		BaseURL: server.URL,
		Owner:   "Gnarus-G",
		Repo:    "maccel",
		Token:   "secret",
		Retrier: testRetrier(nil),
	})
	require.NoError(t, err)

	_, err = client.ResolveVersion(context.Background(), "0.4.1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", auth)
}
