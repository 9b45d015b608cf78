// Package rpmspec renders the two maccel package definitions from their
// templates. Substitution is literal: each placeholder token is replaced with
// its value, no escaping. Callers must make sure substituted values do not
// themselves contain placeholder syntax.
package rpmspec

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ErrTemplateMissing means a spec template does not exist at the expected
// location.
var ErrTemplateMissing = errors.New("spec template missing")

// Template file names under the templates directory.
const (
	TemplateKmod = "maccel-kmod.spec.in"
	TemplateCLI  = "maccel-cli.spec.in"
)

// maxChangelogLines caps how much of the upstream changelog body makes it
// into the rendered %changelog section.
const maxChangelogLines = 10

type Values struct {
	Version   string
	License   string
	SourceURL string
	Changelog string
}

// Render reads the template at templatePath and substitutes all placeholder
// tokens. Identical inputs produce byte-identical output.
func Render(templatePath string, vals Values) (string, error) {
	raw, err := os.ReadFile(templatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrTemplateMissing, templatePath)
		}
		return "", err
	}

	replacer := strings.NewReplacer(
		"@VERSION@", vals.Version,
		"@LICENSE@", vals.License,
		"@SOURCE_URL@", vals.SourceURL,
		"@CHANGELOG@", vals.Changelog,
	)
	return replacer.Replace(string(raw)), nil
}

// FormatChangelog synthesizes the %changelog section content for one
// version: a dated header, a fixed summary line, and, when upstream provided
// a real changelog body, up to maxChangelogLines of it re-indented with
// bullet markers normalized.
func FormatChangelog(version, body, packager string, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "* %s %s - %s-1\n", now.UTC().Format("Mon Jan 02 2006"), packager, version)
	fmt.Fprintf(&b, "- Update to version %s\n", version)

	changes := upstreamChanges(version, body)
	if len(changes) == 0 {
		return b.String()
	}

	b.WriteString("- Upstream changes:\n")
	for _, line := range changes {
		fmt.Fprintf(&b, "  - %s\n", line)
	}
	return b.String()
}

// ChangelogEntries counts the upstream change lines FormatChangelog includes
// for body. Zero when the body is empty or just the synthesized default.
func ChangelogEntries(version, body string) int {
	return len(upstreamChanges(version, body))
}

func upstreamChanges(version, body string) []string {
	body = strings.TrimSpace(body)
	if body == "" || body == "Update to version "+version {
		return nil
	}

	lines := strings.Split(body, "\n")
	if len(lines) > maxChangelogLines {
		lines = lines[:maxChangelogLines]
	}

	var changes []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(strings.TrimLeft(line, "*-+ "))
		if line == "" {
			continue
		}
		changes = append(changes, line)
	}
	return changes
}
