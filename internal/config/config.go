// ABOUTME: Configuration loading and parsing for partner-poller
// ABOUTME: Supports YAML or TOML files with .env loading and environment variable expansion

package config

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/2389/partner-poller/internal/scheduler"
)

// Environment variables consulted while loading.
const (
	EnvConfigPath = "POLLER_CONFIG"
	EnvEnvFile    = "POLLER_ENV_FILE"
)

// Agent types.
const (
	AgentTypePaged = "paged"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// ErrNoConfig indicates no config file was given or found in the default locations.
var ErrNoConfig = errors.New("no config file found")

// Config represents the complete partner-poller configuration
type Config struct {
	App          AppConfig                `yaml:"app" toml:"app"`
	Logging      LoggingConfig            `yaml:"logging" toml:"logging"`
	HTTP         HTTPConfig               `yaml:"http" toml:"http"`
	Services     map[string]ServiceConfig `yaml:"services" toml:"services"`
	Databases    DatabasesConfig          `yaml:"databases" toml:"databases"`
	RuntimeState RuntimeStateConfig       `yaml:"runtime_state" toml:"runtime_state"`
	Observer     ObserverConfig           `yaml:"observer" toml:"observer"`
	Telemetry    TelemetryConfig          `yaml:"telemetry" toml:"telemetry"`
	Agents       map[string]AgentConfig   `yaml:"agents" toml:"agents"`
}

// AppConfig holds environment name and the time zone used for daily schedules
type AppConfig struct {
	Env      string `yaml:"env" toml:"env"`
	Timezone string `yaml:"timezone" toml:"timezone"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// HTTPConfig holds defaults shared by all service clients
type HTTPConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds" toml:"timeout_seconds"`
}

// ServiceConfig describes one external partner API
type ServiceConfig struct {
	BaseURL            string `yaml:"base_url" toml:"base_url"`
	Endpoint           string `yaml:"endpoint" toml:"endpoint"`
	AuthBearer         string `yaml:"auth_bearer" toml:"auth_bearer"`
	HTTPTimeoutSeconds int    `yaml:"http_timeout_seconds" toml:"http_timeout_seconds"`
}

// DatabasesConfig holds database profiles used for health checks
type DatabasesConfig struct {
	// ConnectionStringTemplate is used for profiles without connection_string.
	// Placeholders: {Address} {Port} {ServiceName} {Login} {Password}.
	ConnectionStringTemplate string               `yaml:"connection_string_template" toml:"connection_string_template"`
	DefaultTimeoutSeconds    int                  `yaml:"default_timeout_seconds" toml:"default_timeout_seconds"`
	Profiles                 map[string]DBProfile `yaml:"profiles" toml:"profiles"`
}

// DBProfile is one database connection profile
type DBProfile struct {
	Driver           string `yaml:"driver" toml:"driver"`
	Name             string `yaml:"name" toml:"name"`
	Lvl              string `yaml:"lvl" toml:"lvl"`
	ConnectionString string `yaml:"connection_string" toml:"connection_string"`
	Address          string `yaml:"address" toml:"address"`
	Port             int    `yaml:"port" toml:"port"`
	ServiceName      string `yaml:"service_name" toml:"service_name"`
	Login            string `yaml:"login" toml:"login"`
	Password         string `yaml:"password" toml:"password"`
}

// DisplayName returns "Name (lvl)", falling back to key.
func (p DBProfile) DisplayName(key string) string {
	name := cmp.Or(p.Name, key)
	if p.Lvl == "" {
		return name
	}
	return fmt.Sprintf("%s (%s)", name, p.Lvl)
}

// RuntimeStateConfig holds the location of the runtime state document
type RuntimeStateConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// ObserverConfig holds the observer HTTP API settings
type ObserverConfig struct {
	// HTTPAddr is the listen address. Empty disables the API.
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TelemetryConfig holds OTLP export settings. Empty endpoint disables export.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint" toml:"endpoint"`
	Insecure    bool   `yaml:"insecure" toml:"insecure"`
	ServiceName string `yaml:"service_name" toml:"service_name"`
}

// AgentConfig holds one agent block from agents.<id>
type AgentConfig struct {
	Enabled     *bool          `yaml:"enabled" toml:"enabled"`
	DisplayName string         `yaml:"display_name" toml:"display_name"`
	Type        string         `yaml:"type" toml:"type"`
	Service     string         `yaml:"service" toml:"service"`
	DBProfile   string         `yaml:"db_profile" toml:"db_profile"`
	Schedule    scheduler.Spec `yaml:"schedule" toml:"schedule"`
	Paging      PagingConfig   `yaml:"paging" toml:"paging"`
}

// IsEnabled reports whether the agent starts active. Agents are enabled
// unless the block says otherwise.
func (a AgentConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// PagingConfig holds the pagination window for paged agents
type PagingConfig struct {
	StartPage       int `yaml:"start_page" toml:"start_page"`
	PerPage         int `yaml:"per_page" toml:"per_page"`
	MaxPagesPerTick int `yaml:"max_pages_per_tick" toml:"max_pages_per_tick"`
}

// ResolvePath picks the config file: explicit path, then POLLER_CONFIG, then
// ./config.yaml, ./config.yml and ./config.toml.
func ResolvePath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	for _, candidate := range []string{"config.yaml", "config.yml", "config.toml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", ErrNoConfig
}

// Load reads a configuration file from the given path and returns a parsed Config.
// A .env file next to the config (or the file named by POLLER_ENV_FILE) is
// loaded first; variables already set in the environment win. Environment
// variables in the format ${VAR_NAME} are then expanded.
func Load(path string) (*Config, error) {
	if err := loadEnvFile(path); err != nil {
		return nil, fmt.Errorf("loading env file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes, defaults and validates config data. ext selects the format:
// ".toml" is TOML, anything else is YAML.
func Parse(data []byte, ext string) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(ext, ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(strings.NewReader(expanded))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile(configPath string) error {
	envPath := os.Getenv(EnvEnvFile)
	explicit := envPath != ""
	if !explicit {
		envPath = filepath.Join(filepath.Dir(configPath), ".env")
	}

	err := godotenv.Load(envPath)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.HTTP.TimeoutSeconds == 0 {
		c.HTTP.TimeoutSeconds = 30
	}
	if c.Databases.DefaultTimeoutSeconds == 0 {
		c.Databases.DefaultTimeoutSeconds = 15
	}
	if c.RuntimeState.Path == "" {
		c.RuntimeState.Path = "runtime_state.json"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "partner-poller"
	}

	for key, p := range c.Databases.Profiles {
		if p.Driver == "" {
			p.Driver = DriverSQLite
		}
		p.Driver = strings.ToLower(p.Driver)
		c.Databases.Profiles[key] = p
	}

	for id, a := range c.Agents {
		if a.DisplayName == "" {
			a.DisplayName = id
		}
		if a.Type == "" {
			a.Type = AgentTypePaged
		}
		if a.Paging.StartPage == 0 {
			a.Paging.StartPage = 1
		}
		if a.Paging.PerPage == 0 {
			a.Paging.PerPage = 10
		}
		if a.Paging.MaxPagesPerTick == 0 {
			a.Paging.MaxPagesPerTick = 1
		}
		c.Agents[id] = a
	}
}

var agentIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Logging.Level)) {
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	if !slices.Contains([]string{"text", "json"}, strings.ToLower(c.Logging.Format)) {
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}
	if c.HTTP.TimeoutSeconds < 0 {
		return fmt.Errorf("http.timeout_seconds must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	for key, s := range c.Services {
		if s.BaseURL == "" {
			return fmt.Errorf("services.%s.base_url is required", key)
		}
		if s.HTTPTimeoutSeconds < 0 {
			return fmt.Errorf("services.%s.http_timeout_seconds must not be negative", key)
		}
	}

	for key, p := range c.Databases.Profiles {
		if !slices.Contains([]string{DriverSQLite, DriverPostgres, DriverMySQL}, p.Driver) {
			return fmt.Errorf("databases.profiles.%s.driver %q is not supported", key, p.Driver)
		}
		if p.ConnectionString == "" && c.Databases.ConnectionStringTemplate == "" {
			return fmt.Errorf("databases.profiles.%s needs connection_string or databases.connection_string_template", key)
		}
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("agents: at least one agent is required")
	}
	for _, id := range c.AgentIDs() {
		if err := c.validateAgent(id, c.Agents[id]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateAgent(id string, a AgentConfig) error {
	if !agentIDPattern.MatchString(id) {
		return fmt.Errorf("agents.%s: id must be a lowercase token", id)
	}
	if a.Type != AgentTypePaged {
		return fmt.Errorf("agents.%s.type %q is not supported", id, a.Type)
	}
	if a.Service == "" {
		return fmt.Errorf("agents.%s.service is required", id)
	}
	if _, ok := c.Services[a.Service]; !ok {
		return fmt.Errorf("agents.%s.service %q is not defined in services", id, a.Service)
	}
	if a.DBProfile != "" {
		if _, ok := c.Databases.Profiles[a.DBProfile]; !ok {
			return fmt.Errorf("agents.%s.db_profile %q is not defined in databases.profiles", id, a.DBProfile)
		}
	}
	if err := a.Schedule.Validate(); err != nil {
		return fmt.Errorf("agents.%s.schedule: %w", id, err)
	}
	if a.Paging.StartPage < 1 || a.Paging.PerPage < 1 || a.Paging.MaxPagesPerTick < 1 {
		return fmt.Errorf("agents.%s.paging values must be positive", id)
	}
	return nil
}

// AgentIDs returns the configured agent ids in sorted order.
func (c *Config) AgentIDs() []string {
	ids := make([]string, 0, len(c.Agents))
	for id := range c.Agents {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Location returns the configured time zone, or time.Local when unset.
func (c *Config) Location() (*time.Location, error) {
	if c.App.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return nil, fmt.Errorf("app.timezone %q: %w", c.App.Timezone, err)
	}
	return loc, nil
}

// ServiceTimeout returns the HTTP timeout for service: the service value,
// then http.timeout_seconds, then 30 seconds.
func (c *Config) ServiceTimeout(service string) time.Duration {
	if s, ok := c.Services[service]; ok && s.HTTPTimeoutSeconds > 0 {
		return time.Duration(s.HTTPTimeoutSeconds) * time.Second
	}
	if c.HTTP.TimeoutSeconds > 0 {
		return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}
