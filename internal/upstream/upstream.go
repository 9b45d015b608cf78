// Package upstream talks to the source-control hosting API of the maccel
// driver project: release listing, license, changelog and tag metadata.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/maccel-img/buildtools/internal/common"
	"github.com/maccel-img/buildtools/internal/retrier"
)

var (
	// ErrVersionNotFound means a pinned version could not be confirmed
	// upstream within the retry budget.
	ErrVersionNotFound = errors.New("version not found upstream")

	// ErrUpstreamUnreachable means the latest-release endpoint could not be
	// queried within the retry budget.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")

	// ErrMetadataUnavailable means a required metadata fetch (license)
	// failed within the retry budget.
	ErrMetadataUnavailable = errors.New("upstream metadata unavailable")
)

// UnknownCommit is the sentinel recorded when the tag commit cannot be
// resolved. The commit is informational only, so this never fails a run.
const UnknownCommit = "unknown"

var versionRE = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+(-[0-9A-Za-z.-]+)?$`)

// VerifyVersion reports whether ver is a plausible semantic version after
// tag-marker stripping.
func VerifyVersion(ver string) bool {
	return versionRE.MatchString(ver)
}

// StripTagMarker removes a leading "v" tag marker, if present, so the result
// can be used as a cache key and RPM version field.
func StripTagMarker(tag string) string {
	return strings.TrimPrefix(tag, "v")
}

// DefaultChangelog is the changelog body synthesized when upstream provides
// none.
func DefaultChangelog(version string) string {
	return "Update to version " + version
}

// Metadata is everything the spec generator needs to know about one driver
// version.
type Metadata struct {
	Version   string
	License   string
	Changelog string
	SourceURL string
	Commit    string
}

type ClientConfig struct {
	BaseURL string
	Owner   string
	Repo    string
	Token   string
	Logger  *logrus.Logger

	// Retrier overrides the default bounded-retry policy, mainly for tests.
	Retrier *retrier.Retrier
}

type Client struct {
	client  *http.Client
	baseURL *url.URL
	owner   string
	repo    string
	token   string
	retrier *retrier.Retrier
}

func NewClient(config ClientConfig) (*Client, error) {
	baseURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream API URL: %w", err)
	}

	rc := retryablehttp.NewClient()
	rc.Logger = common.NewRHLeveledLogger(config.Logger)
	// The bounded retry policy with its documented timing lives in the
	// retrier, not in the transport.
	rc.RetryMax = 0

	r := config.Retrier
	if r == nil {
		r = retrier.New()
	}

	return &Client{
		client:  rc.StandardClient(),
		baseURL: baseURL,
		owner:   config.Owner,
		repo:    config.Repo,
		token:   config.Token,
		retrier: r,
	}, nil
}

// ResolveVersion turns an optional pinned version into the concrete version
// to generate for. An empty pinned version resolves to the latest upstream
// release. The result never carries a tag marker.
func (c *Client) ResolveVersion(ctx context.Context, pinned string) (string, error) {
	if pinned != "" {
		ver := StripTagMarker(pinned)
		err := c.retrier.Do(func() error {
			var rel release
			return c.getJSON(ctx, c.repoPath("releases", "tags", "v"+ver), &rel)
		})
		if err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrVersionNotFound, ver, err)
		}
		return ver, nil
	}

	var rel release
	err := c.retrier.Do(func() error {
		return c.getJSON(ctx, c.repoPath("releases", "latest"), &rel)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}
	if rel.TagName == "" {
		return "", fmt.Errorf("%w: latest release has no tag name", ErrUpstreamUnreachable)
	}
	return StripTagMarker(rel.TagName), nil
}

// Metadata gathers license, changelog, source URL and commit hash for an
// already resolved version. Only the license fetch is fatal; the changelog
// degrades to a default body and the commit to UnknownCommit.
func (c *Client) Metadata(ctx context.Context, version string) (Metadata, error) {
	md := Metadata{
		Version:   version,
		SourceURL: c.SourceURL(version),
	}

	err := c.retrier.Do(func() error {
		var lic licenseResponse
		if err := c.getJSON(ctx, c.repoPath("license"), &lic); err != nil {
			return err
		}
		if lic.License.SPDXID == "" {
			return fmt.Errorf("license response carries no SPDX identifier")
		}
		md.License = lic.License.SPDXID
		return nil
	})
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: license: %v", ErrMetadataUnavailable, err)
	}

	md.Changelog = c.changelog(ctx, version)
	md.Commit = c.commit(ctx, version)

	return md, nil
}

// SourceURL constructs the source tarball URL for a version. Purely
// deterministic, no network involved.
func (c *Client) SourceURL(version string) string {
	return fmt.Sprintf("https://github.com/%s/%s/archive/refs/tags/v%s.tar.gz",
		c.owner, c.repo, version)
}

func (c *Client) changelog(ctx context.Context, version string) string {
	var rel release
	err := c.retrier.Do(func() error {
		return c.getJSON(ctx, c.repoPath("releases", "tags", "v"+version), &rel)
	})
	if err != nil || strings.TrimSpace(rel.Body) == "" {
		if err != nil {
			logrus.WithField("version", version).Warnf("Could not fetch changelog, using default: %v", err)
		}
		return DefaultChangelog(version)
	}
	return strings.TrimSpace(rel.Body)
}

func (c *Client) commit(ctx context.Context, version string) string {
	var ref gitRef
	err := c.getJSON(ctx, c.repoPath("git", "ref", "tags", "v"+version), &ref)
	if err != nil || ref.Object.SHA == "" {
		logrus.WithField("version", version).Warnf("Could not resolve tag commit: %v", err)
		return UnknownCommit
	}
	return ref.Object.SHA
}

func (c *Client) repoPath(elem ...string) string {
	return path.Join(append([]string{"repos", c.owner, c.repo}, elem...)...)
}

func (c *Client) getJSON(ctx context.Context, apiPath string, v interface{}) error {
	u := *c.baseURL
	u.Path = path.Join(u.Path, apiPath)

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream API %q returned status: %s", u.String(), resp.Status)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

type release struct {
	TagName string `json:"tag_name"`
	Body    string `json:"body"`
}

type licenseResponse struct {
	License struct {
		SPDXID string `json:"spdx_id"`
	} `json:"license"`
}

type gitRef struct {
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}
