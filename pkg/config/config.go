package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/sirosfoundation/go-linkshare/pkg/logging"
)

// validate is the singleton validator instance
var validate = validator.New()

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Instances InstancesConfig `yaml:"instances" envconfig:"INSTANCES"`
	Storage   StorageConfig   `yaml:"storage" envconfig:"STORAGE"`
	Watcher   WatcherConfig   `yaml:"watcher" envconfig:"WATCHER"`
	Mirror    MirrorConfig    `yaml:"mirror" envconfig:"MIRROR"`
	Logging   logging.Config  `yaml:"logging" envconfig:"LOGGING"`
	CORS      CORSConfig      `yaml:"cors" envconfig:"CORS"`
}

// ServerConfig contains the control server configuration
type ServerConfig struct {
	Host         string `yaml:"host" envconfig:"HOST" validate:"required"`
	Port         int    `yaml:"port" envconfig:"PORT" validate:"min=1,max=65535"`
	EventsPort   int    `yaml:"events_port" envconfig:"EVENTS_PORT" validate:"min=0,max=65535"` // 0 serves /ws/events on Port
	ControlToken string `yaml:"control_token" envconfig:"CONTROL_TOKEN"`                        // Bearer token for /api (auto-generated if empty)

	AuthRateLimit AuthRateLimitConfig `yaml:"auth_rate_limit" envconfig:"AUTH_RATE_LIMIT"`
}

// AuthRateLimitConfig throttles clients presenting bad control tokens
type AuthRateLimitConfig struct {
	Enabled        bool `yaml:"enabled" envconfig:"ENABLED"`
	MaxAttempts    int  `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS" validate:"min=0"`
	WindowSeconds  int  `yaml:"window_seconds" envconfig:"WINDOW_SECONDS" validate:"min=0"`
	LockoutSeconds int  `yaml:"lockout_seconds" envconfig:"LOCKOUT_SECONDS" validate:"min=0"`
}

// SetDefaults fills zero values with defaults
func (c *AuthRateLimitConfig) SetDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 10
	}
	if c.WindowSeconds == 0 {
		c.WindowSeconds = 60
	}
	if c.LockoutSeconds == 0 {
		c.LockoutSeconds = 300
	}
}

// InstancesConfig controls how file-serving instances bind and drain
type InstancesConfig struct {
	BindHost string `yaml:"bind_host" envconfig:"BIND_HOST" validate:"required"`
	// PortMin and PortMax define a managed port range. Both zero means
	// every instance binds an ephemeral port unless its network names one.
	PortMin                  int    `yaml:"port_min" envconfig:"PORT_MIN" validate:"min=0,max=65535"`
	PortMax                  int    `yaml:"port_max" envconfig:"PORT_MAX" validate:"min=0,max=65535"`
	DrainTimeoutSeconds      int    `yaml:"drain_timeout_seconds" envconfig:"DRAIN_TIMEOUT_SECONDS" validate:"min=0"` // 0 closes connections without draining
	ReadHeaderTimeoutSeconds int    `yaml:"read_header_timeout_seconds" envconfig:"READ_HEADER_TIMEOUT_SECONDS" validate:"min=0"`
	NamePolicy               string `yaml:"name_policy" envconfig:"NAME_POLICY" validate:"oneof=multiplex reject"`
}

// StorageConfig contains linked-path store configuration
type StorageConfig struct {
	Type    string        `yaml:"type" envconfig:"TYPE" validate:"oneof=memory file sqlite badger mongodb"`
	File    FileConfig    `yaml:"file" envconfig:"FILE"`
	SQLite  SQLiteConfig  `yaml:"sqlite" envconfig:"SQLITE"`
	Badger  BadgerConfig  `yaml:"badger" envconfig:"BADGER"`
	MongoDB MongoDBConfig `yaml:"mongodb" envconfig:"MONGODB"`
}

// FileConfig contains JSON file store configuration
type FileConfig struct {
	Path string `yaml:"path" envconfig:"PATH"`
}

// SQLiteConfig contains SQLite-specific configuration
type SQLiteConfig struct {
	Path string `yaml:"path" envconfig:"DB_PATH"`
}

// BadgerConfig contains BadgerDB-specific configuration
type BadgerConfig struct {
	Dir      string `yaml:"dir" envconfig:"DIR"`
	InMemory bool   `yaml:"in_memory" envconfig:"IN_MEMORY"`
}

// MongoDBConfig contains MongoDB-specific configuration
type MongoDBConfig struct {
	URI      string `yaml:"uri" envconfig:"URI"`
	Database string `yaml:"database" envconfig:"DATABASE"`
	Timeout  int    `yaml:"timeout" envconfig:"TIMEOUT"` // seconds
}

// WatcherConfig controls the config-file watcher
type WatcherConfig struct {
	Enabled        bool `yaml:"enabled" envconfig:"ENABLED"`
	DebounceMillis int  `yaml:"debounce_ms" envconfig:"DEBOUNCE_MS" validate:"min=0"`
}

// MirrorConfig controls the remote mirroring client
type MirrorConfig struct {
	Concurrency    int `yaml:"concurrency" envconfig:"CONCURRENCY" validate:"min=1,max=64"`
	TimeoutSeconds int `yaml:"timeout_seconds" envconfig:"TIMEOUT_SECONDS" validate:"min=0"` // per request, 0 disables

	Filter MirrorFilterConfig `yaml:"filter" envconfig:"FILTER"`
}

// MirrorFilterConfig restricts which hosts the mirror client may contact.
// Peers usually live on the local network, so only link-local targets
// (cloud metadata endpoints) are blocked by default.
type MirrorFilterConfig struct {
	RequireHTTPS   bool     `yaml:"require_https" envconfig:"REQUIRE_HTTPS"`
	BlockLoopback  bool     `yaml:"block_loopback" envconfig:"BLOCK_LOOPBACK"`
	BlockPrivate   bool     `yaml:"block_private" envconfig:"BLOCK_PRIVATE"`
	BlockLinkLocal bool     `yaml:"block_link_local" envconfig:"BLOCK_LINK_LOCAL"`
	BlockedHosts   []string `yaml:"blocked_hosts" envconfig:"BLOCKED_HOSTS"`
}

// CORSConfig contains CORS settings for the control API
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `yaml:"allowed_methods" envconfig:"ALLOWED_METHODS"`
	AllowedHeaders   []string `yaml:"allowed_headers" envconfig:"ALLOWED_HEADERS"`
	ExposedHeaders   []string `yaml:"exposed_headers" envconfig:"EXPOSED_HEADERS"`
	AllowCredentials bool     `yaml:"allow_credentials" envconfig:"ALLOW_CREDENTIALS"`
	MaxAge           int      `yaml:"max_age" envconfig:"MAX_AGE"` // seconds
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Load from YAML file if provided (overrides defaults)
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// File doesn't exist, that's ok - we'll use defaults and env vars
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("LINKSHARE", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns the default configuration.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible default values
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 7878,
			AuthRateLimit: AuthRateLimitConfig{
				Enabled:        true,
				MaxAttempts:    10,
				WindowSeconds:  60,
				LockoutSeconds: 300,
			},
		},
		Instances: InstancesConfig{
			BindHost:                 "0.0.0.0",
			DrainTimeoutSeconds:      10,
			ReadHeaderTimeoutSeconds: 10,
			NamePolicy:               "multiplex",
		},
		Storage: StorageConfig{
			Type: "file",
			File: FileConfig{
				Path: "configs/private_config.json",
			},
			SQLite: SQLiteConfig{
				Path: "linkshare.db",
			},
			Badger: BadgerConfig{
				Dir: "linkshare.badger",
			},
			MongoDB: MongoDBConfig{
				URI:      "mongodb://localhost:27017",
				Database: "linkshare",
				Timeout:  10,
			},
		},
		Watcher: WatcherConfig{
			Enabled:        true,
			DebounceMillis: 500,
		},
		Mirror: MirrorConfig{
			Concurrency:    4,
			TimeoutSeconds: 0,
			Filter: MirrorFilterConfig{
				BlockLinkLocal: true,
				BlockedHosts:   []string{"metadata.google.internal"},
			},
		},
		Logging: logging.DefaultConfig(),
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         12 * 60 * 60,
		},
	}
}

// Validate validates the configuration using struct tags and the rules
// that cannot be expressed in tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	if (c.Instances.PortMin == 0) != (c.Instances.PortMax == 0) {
		return fmt.Errorf("instances: port_min and port_max must be set together")
	}
	if c.Instances.PortMin > c.Instances.PortMax {
		return fmt.Errorf("instances: invalid port range %d-%d", c.Instances.PortMin, c.Instances.PortMax)
	}

	switch c.Storage.Type {
	case "file":
		if c.Storage.File.Path == "" {
			return fmt.Errorf("storage: file path is required when using file storage")
		}
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage: sqlite path is required when using sqlite storage")
		}
	case "badger":
		if c.Storage.Badger.Dir == "" && !c.Storage.Badger.InMemory {
			return fmt.Errorf("storage: badger dir is required unless in_memory is set")
		}
	case "mongodb":
		if c.Storage.MongoDB.URI == "" {
			return fmt.Errorf("storage: mongodb uri is required when using mongodb storage")
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}

// Address returns the control server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EventsAddress returns the address of the separate events server.
func (c *ServerConfig) EventsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.EventsPort)
}

// DrainTimeout is how long a stopping instance may spend finishing requests.
func (c *InstancesConfig) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutSeconds) * time.Second
}

// ReadHeaderTimeout bounds how long an instance waits for request headers.
func (c *InstancesConfig) ReadHeaderTimeout() time.Duration {
	return time.Duration(c.ReadHeaderTimeoutSeconds) * time.Second
}

// Debounce returns the watcher debounce window.
func (c *WatcherConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMillis) * time.Millisecond
}

// Timeout returns the per-request mirror timeout (0 means none).
func (c *MirrorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
