package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SecretEnvVar overrides vault.secret when set.
const SecretEnvVar = "ARCHIVIST_SECRET"

// Config represents the application configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Discord   DiscordConfig   `yaml:"discord"`
	Storage   StorageConfig   `yaml:"storage"`
	R2        R2Config        `yaml:"r2"`
	Vault     VaultConfig     `yaml:"vault"`
	Worker    WorkerConfig    `yaml:"worker"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	LockDir   string          `yaml:"lock_dir"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // mysql or sqlite
	DSN      string `yaml:"dsn"`    // takes precedence over the fields below
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Path     string `yaml:"path"` // sqlite only
}

type DiscordConfig struct {
	APIBase           string        `yaml:"api_base"`
	CDNBase           string        `yaml:"cdn_base"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	UserAgent         string        `yaml:"user_agent"`
}

type StorageConfig struct {
	Root string `yaml:"root"`
}

// R2Config configures the optional S3-compatible mirror for archived media.
type R2Config struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	PathPrefix string `yaml:"path_prefix"`
}

type VaultConfig struct {
	Secret      string        `yaml:"secret"`
	MediaURLTTL time.Duration `yaml:"media_url_ttl"`
}

type WorkerConfig struct {
	CheckpointEvery int           `yaml:"checkpoint_every"`
	PageSize        int           `yaml:"page_size"`
	DeleteDelay     time.Duration `yaml:"delete_delay"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	Launcher        string        `yaml:"launcher"` // process or inline
	Binary          string        `yaml:"binary"`
}

type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Tick     time.Duration `yaml:"tick"`
	Timezone string        `yaml:"timezone"`
}

type HTTPConfig struct {
	Addr            string `yaml:"addr"`
	PublicRateLimit int    `yaml:"public_rate_limit"` // requests per minute per IP on /media
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads the configuration from a YAML file.
// ${VAR} references in the file are expanded from the environment.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration bytes and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if secret := os.Getenv(SecretEnvVar); secret != "" {
		cfg.Vault.Secret = secret
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.Name == "" {
		c.Database.Name = "archivist"
	}
	if c.Database.Path == "" {
		c.Database.Path = "archivist.db"
	}

	if c.Discord.APIBase == "" {
		c.Discord.APIBase = "https://discord.com/api/v10"
	}
	if c.Discord.CDNBase == "" {
		c.Discord.CDNBase = "https://cdn.discordapp.com"
	}
	if c.Discord.Timeout == 0 {
		c.Discord.Timeout = 30 * time.Second
	}
	if c.Discord.MaxRetries == 0 {
		c.Discord.MaxRetries = 5
	}
	if c.Discord.RequestsPerSecond == 0 {
		c.Discord.RequestsPerSecond = 40
	}
	if c.Discord.UserAgent == "" {
		c.Discord.UserAgent = "archivist (https://github.com/davexpro/archivist, 1.0)"
	}

	if c.Storage.Root == "" {
		c.Storage.Root = "data"
	}
	if c.Vault.MediaURLTTL == 0 {
		c.Vault.MediaURLTTL = 24 * time.Hour
	}

	if c.Worker.CheckpointEvery == 0 {
		c.Worker.CheckpointEvery = 50
	}
	if c.Worker.PageSize == 0 {
		c.Worker.PageSize = 100
	}
	if c.Worker.DeleteDelay == 0 {
		c.Worker.DeleteDelay = 500 * time.Millisecond
	}
	if c.Worker.DownloadTimeout == 0 {
		c.Worker.DownloadTimeout = 2 * time.Minute
	}
	if c.Worker.Launcher == "" {
		c.Worker.Launcher = "process"
	}

	if c.Scheduler.Tick == 0 {
		c.Scheduler.Tick = time.Minute
	}
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "UTC"
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.PublicRateLimit == 0 {
		c.HTTP.PublicRateLimit = 120
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.LockDir == "" {
		c.LockDir = "/tmp/archivist"
	}
}

// Validate reports configuration values that cannot work at runtime.
func (c *Config) Validate() error {
	if c.Vault.Secret == "" {
		return errors.New("vault.secret is required (or set " + SecretEnvVar + ")")
	}
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("database.driver must be mysql or sqlite, got %q", c.Database.Driver)
	}
	switch c.Worker.Launcher {
	case "process", "inline":
	default:
		return fmt.Errorf("worker.launcher must be process or inline, got %q", c.Worker.Launcher)
	}
	if c.Worker.PageSize < 1 || c.Worker.PageSize > 100 {
		return fmt.Errorf("worker.page_size must be between 1 and 100, got %d", c.Worker.PageSize)
	}
	if c.Worker.CheckpointEvery < 1 {
		return fmt.Errorf("worker.checkpoint_every must be positive, got %d", c.Worker.CheckpointEvery)
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	return nil
}

// Location returns the scheduler time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
