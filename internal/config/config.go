// Package config holds the explicit configuration object handed to every
// component of the receiver at construction time. Values are read from
// RECEIVER_* environment variables (optionally seeded from a .env file) and
// may then be overridden by command-line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	ErrParsingConfig = errors.New("config: failed to parse environment")
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Config is the complete receiver configuration.
type Config struct {
	// RootDir is the deployment root. Site uploads live under RootDir/d/<site>.
	RootDir string `env:"RECEIVER_ROOT_DIR" envDefault:"/var/lib/receiver"`

	// Site is the tenant this process instance serves. When empty the
	// commands fall back to deriving it from the working directory.
	Site string `env:"RECEIVER_SITE"`

	// PluginDir holds one sub-directory per event ("test", "store").
	// Defaults to RootDir/plugins.
	PluginDir string `env:"RECEIVER_PLUGIN_DIR"`

	// LogFile is the append-only audit log. Defaults to
	// RootDir/logs/<site>.log.
	LogFile string `env:"RECEIVER_LOG_FILE"`

	Addr           string        `env:"RECEIVER_ADDR" envDefault:":8080"`
	MaxUploadBytes int64         `env:"RECEIVER_MAX_UPLOAD_BYTES" envDefault:"536870912"`
	MaxFileBytes   int64         `env:"RECEIVER_MAX_FILE_BYTES" envDefault:"268435456"`
	PluginTimeout  time.Duration `env:"RECEIVER_PLUGIN_TIMEOUT" envDefault:"0s"`

	// PrincipalHeader names the header a fronting proxy uses to pass the
	// authenticated user when basic auth credentials are not forwarded.
	PrincipalHeader string `env:"RECEIVER_PRINCIPAL_HEADER" envDefault:"X-Remote-User"`

	// TrustProxy enables reading the client address from X-Forwarded-For and
	// X-Real-IP.
	TrustProxy bool `env:"RECEIVER_TRUST_PROXY" envDefault:"false"`

	// CheckOKResponse switches the check action to {"error":0} instead of
	// the legacy {"error":1,"message":"ok"} wire contract.
	CheckOKResponse bool `env:"RECEIVER_CHECK_OK_RESPONSE" envDefault:"false"`

	// MirrorURL optionally copies every stored artifact to object storage or
	// an archive directory: gs://bucket/prefix, s3://bucket/prefix or
	// file:///path.
	MirrorURL   string `env:"RECEIVER_MIRROR_URL"`
	S3Region    string `env:"RECEIVER_S3_REGION" envDefault:"us-east-1"`
	S3Endpoint  string `env:"RECEIVER_S3_ENDPOINT"`
	S3PathStyle bool   `env:"RECEIVER_S3_PATH_STYLE" envDefault:"false"`

	LogFormat string `env:"RECEIVER_LOG_FORMAT" envDefault:"text"`
	LogLevel  string `env:"RECEIVER_LOG_LEVEL" envDefault:"info"`
}

// Load reads the configuration from the process environment. A .env file in
// the working directory is loaded first when present; variables already set
// in the environment take precedence over it.
func Load() (*Config, error) {
	// The .env file is optional.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Join(ErrParsingConfig, err)
	}
	return &cfg, nil
}

// LoadFrom parses the configuration from the given variables only, ignoring
// the process environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return nil, errors.Join(ErrParsingConfig, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills the paths derived from RootDir and Site.
func (c *Config) ApplyDefaults() {
	if c.PluginDir == "" {
		c.PluginDir = filepath.Join(c.RootDir, "plugins")
	}
	if c.LogFile == "" && c.Site != "" {
		c.LogFile = filepath.Join(c.RootDir, "logs", c.Site+".log")
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.RootDir == "" {
		return fmt.Errorf("%w: root directory is required", ErrInvalidConfig)
	}
	if c.Site == "" {
		return fmt.Errorf("%w: site is required", ErrInvalidConfig)
	}
	if c.Site == "." || c.Site == ".." || strings.ContainsAny(c.Site, `/\`) {
		return fmt.Errorf("%w: site %q must be a single directory name", ErrInvalidConfig, c.Site)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("%w: max upload bytes must be positive", ErrInvalidConfig)
	}
	if c.MaxFileBytes < 0 {
		return fmt.Errorf("%w: max file bytes must not be negative", ErrInvalidConfig)
	}
	if c.PluginTimeout < 0 {
		return fmt.Errorf("%w: plugin timeout must not be negative", ErrInvalidConfig)
	}
	if c.MirrorURL != "" {
		u, err := url.Parse(c.MirrorURL)
		if err != nil {
			return fmt.Errorf("%w: mirror url: %v", ErrInvalidConfig, err)
		}
		switch u.Scheme {
		case "gs", "s3":
			if u.Host == "" {
				return fmt.Errorf("%w: mirror url %q has no bucket", ErrInvalidConfig, c.MirrorURL)
			}
		case "file":
			if u.Path == "" {
				return fmt.Errorf("%w: mirror url %q has no directory", ErrInvalidConfig, c.MirrorURL)
			}
		default:
			return fmt.Errorf("%w: mirror url scheme %q must be gs, s3 or file", ErrInvalidConfig, u.Scheme)
		}
	}
	return nil
}

// SiteDir is the directory uploads for the configured site are stored in.
func (c *Config) SiteDir() string {
	return filepath.Join(c.RootDir, "d", c.Site)
}
