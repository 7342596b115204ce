package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/sirupsen/logrus"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `koanf:"server" yaml:"server"`
	Origin     OriginConfig     `koanf:"origin" yaml:"origin"`
	Network    NetworkConfig    `koanf:"network" yaml:"network"`
	Storage    StorageConfig    `koanf:"storage" yaml:"storage"`
	Partitions PartitionsConfig `koanf:"partitions" yaml:"partitions"`
	Manifest   ManifestConfig   `koanf:"manifest" yaml:"manifest"`
	Cleanup    CleanupConfig    `koanf:"cleanup" yaml:"cleanup"`
	Lifecycle  LifecycleConfig  `koanf:"lifecycle" yaml:"lifecycle"`
	Events     EventsConfig     `koanf:"events" yaml:"events"`
	Log        LogConfig        `koanf:"log" yaml:"log"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port        int         `koanf:"port" yaml:"port"`
	ControlPort int         `koanf:"control_port" yaml:"control_port"`
	HTTPS       HTTPSConfig `koanf:"https" yaml:"https"`
}

// HTTPSConfig enables TLS interception of CONNECT tunnels
type HTTPSConfig struct {
	Enabled         bool   `koanf:"enabled" yaml:"enabled"`
	CACertFile      string `koanf:"ca_cert_file" yaml:"ca_cert_file"`
	CAKeyFile       string `koanf:"ca_key_file" yaml:"ca_key_file"`
	TransparentAddr string `koanf:"transparent_addr" yaml:"transparent_addr"`
}

// OriginConfig is the site the worker sits in front of
type OriginConfig struct {
	URL string `koanf:"url" yaml:"url"`
}

// NetworkConfig configures the network leg of every fetch
type NetworkConfig struct {
	Timeout string `koanf:"timeout" yaml:"timeout"`
}

// StorageConfig selects the partition store backend
type StorageConfig struct {
	Driver string `koanf:"driver" yaml:"driver"` // "sqlite" or "memory"
	DSN    string `koanf:"dsn" yaml:"dsn"`
}

// PartitionsConfig holds the three partition policies
type PartitionsConfig struct {
	Static  PartitionConfig `koanf:"static" yaml:"static"`
	Dynamic PartitionConfig `koanf:"dynamic" yaml:"dynamic"`
	Images  PartitionConfig `koanf:"images" yaml:"images"`
}

// PartitionConfig names a partition and bounds its size. Zero means unbounded.
type PartitionConfig struct {
	Name       string `koanf:"name" yaml:"name"`
	MaxEntries int    `koanf:"max_entries" yaml:"max_entries"`
}

// ManifestConfig lists what gets pre-populated at install.
// When File is set it replaces the inline lists.
type ManifestConfig struct {
	Static []string `koanf:"static" yaml:"static"`
	Images []string `koanf:"images" yaml:"images"`
	File   string   `koanf:"file" yaml:"file"`
}

// CleanupConfig drives the age-based sweep of the dynamic partition
type CleanupConfig struct {
	MaxAge   string `koanf:"max_age" yaml:"max_age"`
	Interval string `koanf:"interval" yaml:"interval"`
}

// LifecycleConfig contains install/activate settings
type LifecycleConfig struct {
	Version        string `koanf:"version" yaml:"version"`
	InstallRetries int    `koanf:"install_retries" yaml:"install_retries"`
}

// EventsConfig configures the optional NATS host event bus
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url" yaml:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix" yaml:"subject_prefix"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"` // "text" or "json"
}

// Default returns the configuration used when no file overrides a value
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:        8080,
			ControlPort: 8081,
		},
		Origin:  OriginConfig{URL: "http://localhost:8000"},
		Network: NetworkConfig{Timeout: "30s"},
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "cache/partitions.sqlite",
		},
		Partitions: PartitionsConfig{
			Static:  PartitionConfig{Name: "bharat-static-v1"},
			Dynamic: PartitionConfig{Name: "bharat-dynamic-v1", MaxEntries: 50},
			Images:  PartitionConfig{Name: "bharat-images-v1", MaxEntries: 20},
		},
		Manifest: ManifestConfig{
			Static: []string{
				"/",
				"/index.html",
				"/products.html",
				"/team.html",
				"/privacy-policy.html",
				"/terms-of-service.html",
				"/css/style.css",
				"/css/products.css",
				"/css/team.css",
				"/js/main.js",
				"/js/animations.js",
				"/data/config.json",
				"/images/logo.webp",
				"https://cdnjs.cloudflare.com/ajax/libs/font-awesome/6.0.0/css/all.min.css",
				"https://unpkg.com/aos@2.3.1/dist/aos.css",
				"https://unpkg.com/aos@2.3.1/dist/aos.js",
			},
			Images: []string{
				"/images/hero-img.webp",
				"team-person-3.jpeg",
			},
		},
		Cleanup: CleanupConfig{
			MaxAge:   "168h",
			Interval: "24h",
		},
		Lifecycle: LifecycleConfig{
			Version:        "bharat-industries-v1.2",
			InstallRetries: 5,
		},
		Events: EventsConfig{SubjectPrefix: "sw"},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file on top of the defaults
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var config Config
	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	return &config, nil
}

// GetNetworkTimeout parses and returns the network timeout
func (c *Config) GetNetworkTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Network.Timeout)
}

// GetCleanupMaxAge parses and returns the dynamic partition max entry age
func (c *Config) GetCleanupMaxAge() (time.Duration, error) {
	return time.ParseDuration(c.Cleanup.MaxAge)
}

// GetCleanupInterval parses and returns the periodic cleanup interval.
// Zero disables the in-process ticker.
func (c *Config) GetCleanupInterval() (time.Duration, error) {
	if c.Cleanup.Interval == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Cleanup.Interval)
}

// PartitionNames returns the current allow-list of partition names
func (c *Config) PartitionNames() []string {
	return []string{c.Partitions.Static.Name, c.Partitions.Dynamic.Name, c.Partitions.Images.Name}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.ControlPort < 0 || c.Server.ControlPort > 65535 {
		return fmt.Errorf("invalid control port: %d", c.Server.ControlPort)
	}

	if c.Server.ControlPort == c.Server.Port {
		return fmt.Errorf("control port must differ from proxy port %d", c.Server.Port)
	}

	if (c.Server.HTTPS.CACertFile == "") != (c.Server.HTTPS.CAKeyFile == "") {
		return fmt.Errorf("https ca_cert_file and ca_key_file must be set together")
	}

	origin, err := url.Parse(c.Origin.URL)
	if err != nil {
		return fmt.Errorf("invalid origin URL: %w", err)
	}
	if !origin.IsAbs() || origin.Host == "" {
		return fmt.Errorf("origin URL must be absolute, got: %s", c.Origin.URL)
	}

	if _, err := c.GetNetworkTimeout(); err != nil {
		return fmt.Errorf("invalid network timeout format: %w", err)
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage dsn is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("storage driver must be 'sqlite' or 'memory', got: %s", c.Storage.Driver)
	}

	seen := make(map[string]bool)
	for _, p := range []PartitionConfig{c.Partitions.Static, c.Partitions.Dynamic, c.Partitions.Images} {
		if p.Name == "" {
			return fmt.Errorf("partition name is required")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate partition name: %s", p.Name)
		}
		seen[p.Name] = true
		if p.MaxEntries < 0 {
			return fmt.Errorf("invalid max_entries for partition %s: %d", p.Name, p.MaxEntries)
		}
	}

	if _, err := c.GetCleanupMaxAge(); err != nil {
		return fmt.Errorf("invalid cleanup max_age format: %w", err)
	}

	if _, err := c.GetCleanupInterval(); err != nil {
		return fmt.Errorf("invalid cleanup interval format: %w", err)
	}

	if c.Lifecycle.InstallRetries < 0 {
		return fmt.Errorf("invalid install_retries: %d", c.Lifecycle.InstallRetries)
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be 'text' or 'json', got: %s", c.Log.Format)
	}

	return nil
}

// ConfigureLogging applies the log section to the global logrus logger
func (c *Config) ConfigureLogging() error {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)

	if c.Log.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
