package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/mitchellh/go-homedir"
)

// Config struct for environment variables.
type Config struct {
	CommitsURL          string            `envconfig:"COMMITS_URL" default:"https://api.github.com/repos/nacrt/SkyblockClient-REPO/commits/main"`
	ContentBaseTemplate string            `envconfig:"CONTENT_BASE_TEMPLATE" default:"https://cdn.jsdelivr.net/gh/nacrt/SkyblockClient-REPO@%s/files/"`
	MirrorBaseTemplate  string            `envconfig:"MIRROR_BASE_TEMPLATE" default:"https://raw.githubusercontent.com/nacrt/SkyblockClient-REPO/%s/files/"`
	CatalogFiles        map[string]string `envconfig:"CATALOG_FILES" default:"mods.json:mods,packs.json:resourcepacks"`
	GithubToken         string            `envconfig:"GITHUB_TOKEN"`
	UserAgent           string            `envconfig:"USER_AGENT" default:"curl/7.73.0"`

	DataDir        string `envconfig:"DATA_DIR"`
	InstallSubpath string `envconfig:"INSTALL_SUBPATH" default:".minecraft/skyclient"`
	StagingSubpath string `envconfig:"STAGING_SUBPATH" default:".skyclient-temp"`
	DBPath         string `envconfig:"DB_PATH"`

	ChunkSize          int           `envconfig:"CHUNK_SIZE" default:"32768"`
	MaxParallel        int           `envconfig:"MAX_PARALLEL" default:"4"`
	VerifyDependencies bool          `envconfig:"VERIFY_DEPENDENCIES" default:"false"`
	StagingRetention   time.Duration `envconfig:"STAGING_RETENTION" default:"1h"`
	UpdateInterval     time.Duration `envconfig:"UPDATE_INTERVAL" default:"30s"`
	CleanupInterval    time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"false"`
		ServiceName  string `split_words:"true" default:"modmirror"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"127.0.0.1:9091"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// Paths are the resolved filesystem locations used by a run.
type Paths struct {
	Base        string
	InstallRoot string
	StagingDir  string
	DBPath      string
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if !strings.Contains(cfg.ContentBaseTemplate, "%s") {
		return nil, fmt.Errorf("CONTENT_BASE_TEMPLATE must contain a %%s placeholder for the commit")
	}

	if cfg.MirrorBaseTemplate != "" && !strings.Contains(cfg.MirrorBaseTemplate, "%s") {
		return nil, fmt.Errorf("MIRROR_BASE_TEMPLATE must contain a %%s placeholder for the commit")
	}

	return &cfg, nil
}

// ResolvePaths derives the install root and its sibling staging directory.
// Without DATA_DIR the user configuration directory is the base.
func (c *Config) ResolvePaths() (Paths, error) {
	base := c.DataDir
	if base == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return Paths{}, fmt.Errorf("failed to resolve user config dir: %w", err)
		}

		base = dir
	}

	base, err := homedir.Expand(base)
	if err != nil {
		return Paths{}, fmt.Errorf("failed to expand data dir: %w", err)
	}

	p := Paths{
		Base:        base,
		InstallRoot: filepath.Join(base, c.InstallSubpath),
		StagingDir:  filepath.Join(base, c.StagingSubpath),
		DBPath:      filepath.Join(base, c.StagingSubpath+".db"),
	}

	if c.DBPath != "" {
		dbPath, err := homedir.Expand(c.DBPath)
		if err != nil {
			return Paths{}, fmt.Errorf("failed to expand db path: %w", err)
		}

		p.DBPath = dbPath
	}

	return p, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
