package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Language string `mapstructure:"language" yaml:"language"`

	Catalog  CatalogConfig  `mapstructure:"catalog" yaml:"catalog"`
	Resolver ResolverConfig `mapstructure:"resolver" yaml:"resolver"`
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`

	Port string `mapstructure:"port" yaml:"port"`
}

type CatalogConfig struct {
	// MediaURL is the template for the gzipped line-delimited media
	// catalog; %s is replaced with the written-language code.
	MediaURL string `mapstructure:"media_url" yaml:"media_url"`

	// PublicationManifestURL returns the current publication catalog
	// version id.
	PublicationManifestURL string `mapstructure:"publication_manifest_url" yaml:"publication_manifest_url"`

	// PublicationCatalogURL is the template for the versioned catalog
	// database snapshot; %s is replaced with the manifest id.
	PublicationCatalogURL string `mapstructure:"publication_catalog_url" yaml:"publication_catalog_url"`

	// WorkDir holds the downloaded catalog files between runs.
	WorkDir string `mapstructure:"work_dir" yaml:"work_dir"`
}

type ResolverConfig struct {
	// Kind selects the resolver implementation: "api" or "scrape".
	Kind string `mapstructure:"kind" yaml:"kind"`

	// BaseURL of the pub-media lookup API.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// FormatPreference is the fixed order format labels are tried in.
	FormatPreference []string `mapstructure:"format_preference" yaml:"format_preference"`

	// ExcludeTitleMarkers skips any entry or file whose title contains
	// one of these phrases.
	ExcludeTitleMarkers []string `mapstructure:"exclude_title_markers" yaml:"exclude_title_markers"`

	// VideoLabel restricts media selection to a specific resolution
	// label (e.g. "240p"). Empty accepts any label.
	VideoLabel string `mapstructure:"video_label" yaml:"video_label"`

	// Scrape resolver settings: the finder page template and the
	// browserless endpoint used to render it.
	FinderURL        string `mapstructure:"finder_url" yaml:"finder_url"`
	BrowserlessURL   string `mapstructure:"browserless_url" yaml:"browserless_url"`
	BrowserlessToken string `mapstructure:"browserless_token" yaml:"browserless_token"`
}

type DownloadConfig struct {
	OutDir      string        `mapstructure:"out_dir" yaml:"out_dir"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
	Workers     int           `mapstructure:"workers" yaml:"workers"`
	MaxOutbound int           `mapstructure:"max_outbound" yaml:"max_outbound"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type StoreConfig struct {
	// Backend is "sqlite" or "postgres".
	Backend     string `mapstructure:"backend" yaml:"backend"`
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

func Load(path string) (*Config, error) {

	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Docker-style fallback when no flag was given
		if path == "config.yaml" {
			if _, errEx := os.Stat("/config/config.yaml"); errEx == nil {
				path = "/config/config.yaml"
			} else {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
		} else {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	v := viper.New()

	// Set Defaults
	v.SetDefault("language", "S")
	v.SetDefault("port", "8080")
	v.SetDefault("catalog.media_url", "https://app.jw-cdn.org/catalogs/media/%s.json.gz")
	v.SetDefault("catalog.publication_manifest_url", "https://app.jw-cdn.org/catalogs/publications/v4/manifest.json")
	v.SetDefault("catalog.publication_catalog_url", "https://app.jw-cdn.org/catalogs/publications/v4/%s/catalog.db.gz")
	v.SetDefault("catalog.work_dir", "./catalogs")
	v.SetDefault("resolver.kind", "api")
	v.SetDefault("resolver.base_url", "https://app.jw-cdn.org/apis/pub-media")
	v.SetDefault("resolver.format_preference", []string{"MP4", "MP3"})
	v.SetDefault("resolver.exclude_title_markers", []string{"(con audiodescripciones)"})
	v.SetDefault("resolver.finder_url", "https://www.jw.org/finder")
	v.SetDefault("download.out_dir", "./downloads")
	v.SetDefault("download.max_retries", 3)
	v.SetDefault("download.workers", 4)
	v.SetDefault("download.max_outbound", 8)
	v.SetDefault("download.timeout", "60s")
	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.sqlite_path", "./jwmirror.db")
	v.SetDefault("log.path", "jwmirror.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	// Support Environment Variables
	v.SetEnvPrefix("JWMIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Language == "" {
		return errors.New("language is required")
	}

	switch c.Store.Backend {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite backend")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch c.Resolver.Kind {
	case "api":
	case "scrape":
		if c.Resolver.BrowserlessURL == "" {
			return errors.New("resolver.browserless_url is required for the scrape resolver")
		}
	default:
		return fmt.Errorf("unknown resolver kind %q", c.Resolver.Kind)
	}

	if c.Download.MaxRetries <= 0 {
		c.Download.MaxRetries = 3
	}
	if c.Download.Workers <= 0 {
		c.Download.Workers = 1
	}
	if c.Download.MaxOutbound <= 0 {
		c.Download.MaxOutbound = c.Download.Workers
	}
	if c.Download.OutDir == "" {
		c.Download.OutDir = "./downloads"
	}

	return nil
}
