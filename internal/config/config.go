// Package config loads the ytradar configuration file.
//
// Only the file is consulted; there are no environment-variable fallbacks.
// Unknown keys are rejected.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	apperrors "github.com/elonfeng/ytradar/internal/errors"
	"github.com/elonfeng/ytradar/internal/logging"
	"github.com/elonfeng/ytradar/internal/store"
	"github.com/elonfeng/ytradar/pkg/quality"
)

// Config is the root configuration.
type Config struct {
	DatabasePath        string             `yaml:"database_path" mapstructure:"database_path"`
	LockTimeout         string             `yaml:"lock_timeout" mapstructure:"lock_timeout"`
	Timezone            string             `yaml:"timezone" mapstructure:"timezone"`
	ExcludeNamePatterns []string           `yaml:"exclude_name_patterns" mapstructure:"exclude_name_patterns"`
	QualityThresholds   quality.Thresholds `yaml:"quality_thresholds" mapstructure:"quality_thresholds"`
	Logging             logging.Config     `yaml:"logging" mapstructure:"logging"`
	Schedule            ScheduleConfig     `yaml:"schedule" mapstructure:"schedule"`
	Server              ServerConfig       `yaml:"server" mapstructure:"server"`
	Sources             SourcesConfig      `yaml:"sources" mapstructure:"sources"`
	Alerts              AlertsConfig       `yaml:"alerts" mapstructure:"alerts"`
	Backup              BackupConfig       `yaml:"backup" mapstructure:"backup"`
}

// ScheduleConfig configures the collect and analyze cycles.
type ScheduleConfig struct {
	CollectInterval string `yaml:"collect_interval" mapstructure:"collect_interval"`
	AnalyzeInterval string `yaml:"analyze_interval" mapstructure:"analyze_interval"`
}

// ParseCollectInterval returns the collect interval, 6h when unparseable.
func (s ScheduleConfig) ParseCollectInterval() time.Duration {
	return parseDuration(s.CollectInterval, 6*time.Hour)
}

// ParseAnalyzeInterval returns the analyze interval, 24h when unparseable.
func (s ScheduleConfig) ParseAnalyzeInterval() time.Duration {
	return parseDuration(s.AnalyzeInterval, 24*time.Hour)
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// SourcesConfig holds importer settings.
type SourcesConfig struct {
	YouTube    YouTubeConfig    `yaml:"youtube" mapstructure:"youtube"`
	Feeds      FeedsConfig      `yaml:"feeds" mapstructure:"feeds"`
	Classifier ClassifierConfig `yaml:"classifier" mapstructure:"classifier"`
}

// ClassifierConfig extends the built-in title keywords used to assign
// hero and help categories to imported videos.
type ClassifierConfig struct {
	HeroKeywords []string `yaml:"hero_keywords" mapstructure:"hero_keywords"`
	HelpKeywords []string `yaml:"help_keywords" mapstructure:"help_keywords"`
}

// YouTubeConfig configures the Data API importer.
type YouTubeConfig struct {
	Enabled  bool     `yaml:"enabled" mapstructure:"enabled"`
	APIKey   string   `yaml:"api_key" mapstructure:"api_key"`
	Channels []string `yaml:"channels" mapstructure:"channels"`
	// MaxVideos caps the uploads fetched per channel and run.
	MaxVideos int `yaml:"max_videos" mapstructure:"max_videos"`
	// RequestsPerSecond limits calls to the API.
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
}

// FeedsConfig configures the public channel feed importer.
type FeedsConfig struct {
	Enabled  bool     `yaml:"enabled" mapstructure:"enabled"`
	Channels []string `yaml:"channels" mapstructure:"channels"`
	BaseURL  string   `yaml:"base_url" mapstructure:"base_url"`
}

// AlertsConfig configures quality notifications.
type AlertsConfig struct {
	// MinScore is the quality score below which a notification is sent.
	MinScore int           `yaml:"min_score" mapstructure:"min_score"`
	Slack    SlackConfig   `yaml:"slack" mapstructure:"slack"`
	Discord  DiscordConfig `yaml:"discord" mapstructure:"discord"`
	Webhook  WebhookConfig `yaml:"webhook" mapstructure:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	URL     string `yaml:"url" mapstructure:"url"`
	Secret  string `yaml:"secret" mapstructure:"secret"`
}

// BackupConfig configures off-host copies of migration backups.
type BackupConfig struct {
	S3 S3Config `yaml:"s3" mapstructure:"s3"`
}

// S3Config describes the mirror bucket.
type S3Config struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	Region    string `yaml:"region" mapstructure:"region"`
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	PathStyle bool   `yaml:"path_style" mapstructure:"path_style"`
	Prefix    string `yaml:"prefix" mapstructure:"prefix"`
}

// Mirror converts the section into store options.
func (c S3Config) Mirror() store.S3MirrorConfig {
	return store.S3MirrorConfig{
		Bucket:       c.Bucket,
		Region:       c.Region,
		Endpoint:     c.Endpoint,
		UsePathStyle: c.PathStyle,
		Prefix:       c.Prefix,
	}
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		DatabasePath:        store.DefaultPath,
		LockTimeout:         "5s",
		Timezone:            "UTC",
		ExcludeNamePatterns: []string{"Test", "Topic Analysis"},
		QualityThresholds:   quality.DefaultThresholds(),
		Logging:             logging.DefaultConfig(),
		Schedule: ScheduleConfig{
			CollectInterval: "6h",
			AnalyzeInterval: "24h",
		},
		Server: ServerConfig{Port: 8080},
		Sources: SourcesConfig{
			YouTube: YouTubeConfig{
				MaxVideos:         200,
				RequestsPerSecond: 5,
			},
		},
		Alerts: AlertsConfig{MinScore: 80},
		Backup: BackupConfig{S3: S3Config{Prefix: "ytradar"}},
	}
}

// Load reads configuration from a YAML file over the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.UnmarshalExact(cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryValidation, apperrors.CodeInvalidConfig,
			fmt.Sprintf("parse config %s", path), err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the components cannot run with.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return apperrors.Validation(apperrors.CodeInvalidConfig, format, args...)
	}

	if c.DatabasePath == "" {
		return invalid("database_path cannot be empty")
	}
	if c.Timezone != "UTC" {
		return invalid("timezone must be UTC, got %q", c.Timezone)
	}
	if _, err := time.ParseDuration(c.LockTimeout); err != nil {
		return invalid("lock_timeout: %v", err)
	}
	for name, s := range map[string]string{
		"schedule.collect_interval": c.Schedule.CollectInterval,
		"schedule.analyze_interval": c.Schedule.AnalyzeInterval,
	} {
		d, err := time.ParseDuration(s)
		if err != nil {
			return invalid("%s: %v", name, err)
		}
		if d <= 0 {
			return invalid("%s must be positive", name)
		}
	}
	if err := c.QualityThresholds.Validate(); err != nil {
		return err
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return invalid("server.port %d out of range", c.Server.Port)
	}

	yt := c.Sources.YouTube
	if yt.Enabled {
		if yt.APIKey == "" {
			return invalid("sources.youtube.api_key is required when the importer is enabled")
		}
		if yt.RequestsPerSecond <= 0 {
			return invalid("sources.youtube.requests_per_second must be positive")
		}
	}
	if c.Backup.S3.Enabled && c.Backup.S3.Bucket == "" {
		return invalid("backup.s3.bucket is required when the mirror is enabled")
	}
	if c.Alerts.Webhook.Enabled && c.Alerts.Webhook.URL == "" {
		return invalid("alerts.webhook.url is required when the webhook is enabled")
	}
	return nil
}

// ParseLockTimeout returns the writer lock timeout.
func (c *Config) ParseLockTimeout() time.Duration {
	return parseDuration(c.LockTimeout, 5*time.Second)
}

// Dump renders the effective configuration as YAML. Secrets are masked.
func (c *Config) Dump() ([]byte, error) {
	masked := *c
	masked.Sources.YouTube.APIKey = mask(c.Sources.YouTube.APIKey)
	masked.Alerts.Webhook.Secret = mask(c.Alerts.Webhook.Secret)
	masked.Alerts.Slack.WebhookURL = mask(c.Alerts.Slack.WebhookURL)
	masked.Alerts.Discord.WebhookURL = mask(c.Alerts.Discord.WebhookURL)
	return yaml.Marshal(&masked)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
