// Package buildconfig holds the TOML configuration shared by the maccel build
// tools. A missing config file is not an error, the defaults target the
// public upstream and builder repositories.
package buildconfig

import (
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
)

const DefaultPath = "/etc/maccel-img/buildtools.toml"

type UpstreamConfig struct {
	APIURL string `toml:"api_url"`
	Owner  string `toml:"owner"`
	Repo   string `toml:"repo"`
}

type BuilderConfig struct {
	APIURL       string `toml:"api_url"`
	Owner        string `toml:"owner"`
	Repo         string `toml:"repo"`
	WorkflowFile string `toml:"workflow_file"`
	Ref          string `toml:"ref"`
}

type CacheConfig struct {
	Root         string `toml:"root"`
	TemplatesDir string `toml:"templates_dir"`
}

type PackagerConfig struct {
	Name  string `toml:"name"`
	Email string `toml:"email"`
}

type ImageConfig struct {
	Ref          string `toml:"ref"`
	CertIdentity string `toml:"cert_identity"`
	CertIssuer   string `toml:"cert_issuer"`
	MaxAgeDays   int    `toml:"max_age_days"`
}

type Config struct {
	TokenPath string `toml:"token_path"`

	Upstream UpstreamConfig `toml:"upstream"`
	Builder  BuilderConfig  `toml:"builder"`
	Cache    CacheConfig    `toml:"cache"`
	Packager PackagerConfig `toml:"packager"`
	Image    ImageConfig    `toml:"image"`
}

func Load(file string) (*Config, error) {
	// set defaults
	config := Config{
		Upstream: UpstreamConfig{
			APIURL: "https://api.github.com",
			Owner:  "Gnarus-G",
			Repo:   "maccel",
		},
		Builder: BuilderConfig{
			APIURL:       "https://api.github.com",
			Owner:        "maccel-img",
			Repo:         "maccel-rpm-builder",
			WorkflowFile: "build-rpms.yml",
			Ref:          "main",
		},
		Cache: CacheConfig{
			Root:         "/var/cache/maccel-specgen",
			TemplatesDir: "/usr/share/maccel-img/templates",
		},
		Packager: PackagerConfig{
			Name:  "maccel-img build bot",
			Email: "builds@maccel-img.dev",
		},
		Image: ImageConfig{
			MaxAgeDays: 30,
		},
	}

	_, err := toml.DecodeFile(file, &config)
	if err != nil {
		// Return error only when we failed to decode the file.
		// A non-existing config isn't an error, use defaults in this case.
		if !os.IsNotExist(err) {
			return nil, err
		}

		logrus.Info("Configuration file not found, using defaults")
	}

	return &config, nil
}

// Token reads the API token. GITHUB_TOKEN wins over the configured token
// file; an empty result means unauthenticated requests.
func (c *Config) Token() (string, error) {
	if t := os.Getenv("GITHUB_TOKEN"); t != "" {
		return t, nil
	}
	if c.TokenPath == "" {
		return "", nil
	}
	raw, err := os.ReadFile(c.TokenPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}
