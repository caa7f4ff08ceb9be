// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, .env files, env var expansion, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/partner-poller/internal/scheduler"
)

const validYAML = `
app:
  env: "test"
  timezone: "UTC"

logging:
  level: "debug"
  format: "json"

http:
  timeout_seconds: 40

services:
  uzstandart:
    base_url: "https://api.example.test"
    endpoint: "/v1/standards"
    auth_bearer: "${POLLER_TEST_TOKEN}"
    http_timeout_seconds: 20
  other:
    base_url: "https://other.example.test"

databases:
  connection_string_template: "postgres://{Login}:{Password}@{Address}:{Port}/{ServiceName}"
  profiles:
    eko_test:
      driver: "Postgres"
      name: "Eko"
      lvl: "test"
      address: "db.internal"
      port: 5432
      service_name: "eko"
      login: "poller"
      password: "secret"
    local:
      connection_string: "file:local.db"

runtime_state:
  path: "/tmp/state.json"

observer:
  http_addr: "127.0.0.1:8088"

agents:
  uzstandart:
    display_name: "UzStandart"
    service: "uzstandart"
    db_profile: "eko_test"
    schedule:
      daily_at: "22:00"
    paging:
      start_page: 3
      per_page: 50
      max_pages_per_tick: 2
  second:
    enabled: false
    service: "other"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// unsetEnv clears key for the duration of the test.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestLoad_ValidConfig(t *testing.T) {
	unsetEnv(t, EnvEnvFile)
	t.Setenv("POLLER_TEST_TOKEN", "tok-123")

	cfg, err := Load(writeConfig(t, "config.yaml", validYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "tok-123", cfg.Services["uzstandart"].AuthBearer)
	assert.Equal(t, "127.0.0.1:8088", cfg.Observer.HTTPAddr)
	assert.Equal(t, "/tmp/state.json", cfg.RuntimeState.Path)

	a := cfg.Agents["uzstandart"]
	assert.True(t, a.IsEnabled())
	assert.Equal(t, "UzStandart", a.DisplayName)
	assert.Equal(t, AgentTypePaged, a.Type)
	assert.Equal(t, scheduler.Spec{DailyAt: "22:00"}, a.Schedule)
	assert.Equal(t, PagingConfig{StartPage: 3, PerPage: 50, MaxPagesPerTick: 2}, a.Paging)

	second := cfg.Agents["second"]
	assert.False(t, second.IsEnabled())
	assert.Equal(t, "second", second.DisplayName)
	assert.Equal(t, PagingConfig{StartPage: 1, PerPage: 10, MaxPagesPerTick: 1}, second.Paging)

	assert.Equal(t, DriverPostgres, cfg.Databases.Profiles["eko_test"].Driver)
	assert.Equal(t, DriverSQLite, cfg.Databases.Profiles["local"].Driver)
	assert.Equal(t, "Eko (test)", cfg.Databases.Profiles["eko_test"].DisplayName("eko_test"))
	assert.Equal(t, "local", cfg.Databases.Profiles["local"].DisplayName("local"))

	assert.Equal(t, []string{"second", "uzstandart"}, cfg.AgentIDs())
}

func TestLoad_TOML(t *testing.T) {
	unsetEnv(t, EnvEnvFile)
	content := `
[services.svc]
base_url = "https://svc.example.test"

[agents.alpha]
service = "svc"

[agents.alpha.schedule]
every_seconds = 30
`
	cfg, err := Load(writeConfig(t, "config.toml", content))
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Agents["alpha"].Schedule.EverySeconds)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 30, cfg.HTTP.TimeoutSeconds)
	assert.Equal(t, "runtime_state.json", cfg.RuntimeState.Path)
}

func TestLoad_DotEnvNextToConfig(t *testing.T) {
	unsetEnv(t, EnvEnvFile)
	unsetEnv(t, "POLLER_TEST_TOKEN")

	path := writeConfig(t, "config.yaml", validYAML)
	envPath := filepath.Join(filepath.Dir(path), ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("POLLER_TEST_TOKEN=from-dotenv\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Services["uzstandart"].AuthBearer)
}

func TestLoad_ExplicitEnvFileMustExist(t *testing.T) {
	t.Setenv(EnvEnvFile, filepath.Join(t.TempDir(), "missing.env"))

	_, err := Load(writeConfig(t, "config.yaml", validYAML))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading env file")
}

func TestLoad_MissingFile(t *testing.T) {
	unsetEnv(t, EnvEnvFile)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestParse_RejectsUnknownYAMLKeys(t *testing.T) {
	_, err := Parse([]byte("bogus: 1\n"+validYAML), ".yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Parse([]byte(validYAML), ".yaml")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"no agents", func(c *Config) { c.Agents = nil }, "at least one agent"},
		{"uppercase id", func(c *Config) {
			c.Agents["Bad"] = c.Agents["second"]
		}, "lowercase token"},
		{"unknown service", func(c *Config) {
			a := c.Agents["second"]
			a.Service = "ghost"
			c.Agents["second"] = a
		}, `service "ghost" is not defined`},
		{"missing service", func(c *Config) {
			a := c.Agents["second"]
			a.Service = ""
			c.Agents["second"] = a
		}, "service is required"},
		{"unknown db profile", func(c *Config) {
			a := c.Agents["second"]
			a.DBProfile = "ghost"
			c.Agents["second"] = a
		}, `db_profile "ghost"`},
		{"bad daily_at", func(c *Config) {
			a := c.Agents["second"]
			a.Schedule = scheduler.Spec{DailyAt: "25:00"}
			c.Agents["second"] = a
		}, "schedule"},
		{"negative schedule", func(c *Config) {
			a := c.Agents["second"]
			a.Schedule = scheduler.Spec{EveryMinutes: -5}
			c.Agents["second"] = a
		}, "schedule"},
		{"bad paging", func(c *Config) {
			a := c.Agents["second"]
			a.Paging.PerPage = -1
			c.Agents["second"] = a
		}, "paging"},
		{"unknown agent type", func(c *Config) {
			a := c.Agents["second"]
			a.Type = "streaming"
			c.Agents["second"] = a
		}, "not supported"},
		{"unsupported driver", func(c *Config) {
			p := c.Databases.Profiles["local"]
			p.Driver = "oracle"
			c.Databases.Profiles["local"] = p
		}, `driver "oracle"`},
		{"profile without connection info", func(c *Config) {
			c.Databases.ConnectionStringTemplate = ""
		}, "connection_string"},
		{"service without base_url", func(c *Config) {
			c.Services["other"] = ServiceConfig{}
		}, "base_url is required"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad timezone", func(c *Config) { c.App.Timezone = "Mars/Olympus" }, "app.timezone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestServiceTimeout(t *testing.T) {
	cfg, err := Parse([]byte(validYAML), ".yaml")
	require.NoError(t, err)

	assert.Equal(t, 20*time.Second, cfg.ServiceTimeout("uzstandart"))
	assert.Equal(t, 40*time.Second, cfg.ServiceTimeout("other"))

	cfg.HTTP.TimeoutSeconds = 0
	assert.Equal(t, 30*time.Second, cfg.ServiceTimeout("other"))
}

func TestLocation(t *testing.T) {
	cfg := &Config{}
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	cfg.App.Timezone = "UTC"
	loc, err = cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/poller.yaml")

	got, err := ResolvePath("explicit.yaml")
	require.NoError(t, err)
	assert.Equal(t, "explicit.yaml", got)

	got, err = ResolvePath("")
	require.NoError(t, err)
	assert.Equal(t, "/etc/poller.yaml", got)

	unsetEnv(t, EnvConfigPath)
	t.Chdir(t.TempDir())
	_, err = ResolvePath("")
	assert.ErrorIs(t, err, ErrNoConfig)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("POLLER_A", "alpha")
	unsetEnv(t, "POLLER_MISSING")

	assert.Equal(t, "x=alpha y=", expandEnvVars("x=${POLLER_A} y=${POLLER_MISSING}"))
}
