package builder

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/sirupsen/logrus"
)

// ErrChecksumMismatch means a downloaded RPM does not match the checksum
// recorded by the builder run.
var ErrChecksumMismatch = errors.New("artifact checksum mismatch")

// checksumsFile is the well-known member name the builder places next to the
// RPMs inside its artifact archives.
const checksumsFile = "SHA256SUMS"

type artifact struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	ArchiveDownloadURL string `json:"archive_download_url"`
}

type artifactList struct {
	Artifacts []artifact `json:"artifacts"`
}

// DownloadRPMs fetches all artifacts of a run whose names match pattern and
// extracts the contained RPMs into destDir. When an archive carries a
// SHA256SUMS member, every extracted RPM listed in it is verified.
func (c *Client) DownloadRPMs(ctx context.Context, runID int64, destDir, pattern string) ([]string, error) {
	matcher, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling artifact pattern %q: %w", pattern, err)
	}

	var list artifactList
	apiPath := path.Join("repos", c.owner, c.repo, "actions", "runs", fmt.Sprintf("%d", runID), "artifacts")
	if err := c.getJSON(ctx, apiPath, "", &list); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, err
	}

	var rpms []string
	for _, a := range list.Artifacts {
		if !matcher.Match(a.Name) {
			logrus.WithField("artifact", a.Name).Debug("Skipping artifact, name does not match")
			continue
		}

		extracted, err := c.downloadArtifact(ctx, a, destDir)
		if err != nil {
			return nil, fmt.Errorf("downloading artifact %q: %w", a.Name, err)
		}
		rpms = append(rpms, extracted...)
	}

	if len(rpms) == 0 {
		return nil, fmt.Errorf("run %d produced no artifacts matching %q", runID, pattern)
	}
	return rpms, nil
}

func (c *Client) downloadArtifact(ctx context.Context, a artifact, destDir string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", a.ArchiveDownloadURL, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("artifact download returned status: %s", resp.Status)
	}

	// the zip format needs random access, spool the archive to disk first
	tmp, err := os.CreateTemp("", "maccel-artifact-*.zip")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		return nil, err
	}

	return extractRPMs(tmp.Name(), destDir)
}

func extractRPMs(archivePath, destDir string) ([]string, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var rpms []string
	var sums map[string]string
	for _, member := range reader.File {
		name := filepath.Base(member.Name)
		switch {
		case name == checksumsFile:
			raw, err := readMember(member)
			if err != nil {
				return nil, err
			}
			sums = parseChecksums(string(raw))
		case strings.HasSuffix(name, ".rpm"):
			dest := filepath.Join(destDir, name)
			if err := writeMember(member, dest); err != nil {
				return nil, err
			}
			rpms = append(rpms, dest)
		}
	}

	if sums != nil {
		if err := verifyChecksums(rpms, sums); err != nil {
			return nil, err
		}
	} else {
		logrus.WithField("archive", filepath.Base(archivePath)).Warn("Artifact carries no SHA256SUMS, skipping verification")
	}

	return rpms, nil
}

func readMember(member *zip.File) ([]byte, error) {
	r, err := member.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func writeMember(member *zip.File, dest string) error {
	r, err := member.Open()
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, r)
	return err
}

// parseChecksums reads sha256sum output: one "<hex>  <filename>" pair per
// line.
func parseChecksums(content string) map[string]string {
	sums := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		sums[strings.TrimPrefix(fields[1], "*")] = fields[0]
	}
	return sums
}

func verifyChecksums(rpms []string, sums map[string]string) error {
	for _, rpm := range rpms {
		name := filepath.Base(rpm)
		want, ok := sums[name]
		if !ok {
			return fmt.Errorf("%w: %s is not listed in %s", ErrChecksumMismatch, name, checksumsFile)
		}

		got, err := fileSHA256(rpm)
		if err != nil {
			return err
		}
		if !strings.EqualFold(got, want) {
			return fmt.Errorf("%w: %s: got %s, want %s", ErrChecksumMismatch, name, got, want)
		}
	}
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
