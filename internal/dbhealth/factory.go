// ABOUTME: Resolves database profiles into connection strings and pooled *sql.DB handles
// ABOUTME: Supports sqlite (modernc), postgres (pgx stdlib) and mysql drivers

package dbhealth

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/2389/partner-poller/internal/config"
)

// ErrUnknownProfile indicates the profile key is not configured.
var ErrUnknownProfile = errors.New("unknown db profile")

// sqlDriverNames maps configured drivers to database/sql driver names.
var sqlDriverNames = map[string]string{
	config.DriverSQLite:   "sqlite",
	config.DriverPostgres: "pgx",
	config.DriverMySQL:    "mysql",
}

// Profile is a resolved database profile.
type Profile struct {
	Key            string
	Driver         string
	ConnectionName string
	DSN            string
}

// Factory resolves every profile once and hands out one pooled handle per profile.
type Factory struct {
	profiles map[string]Profile
	timeout  time.Duration
	logger   *slog.Logger

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewFactory resolves all profiles in cfg. It fails on the first profile whose
// connection string cannot be built or parsed by its driver.
func NewFactory(cfg config.DatabasesConfig, logger *slog.Logger) (*Factory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := time.Duration(cfg.DefaultTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	f := &Factory{
		profiles: make(map[string]Profile, len(cfg.Profiles)),
		timeout:  timeout,
		logger:   logger.With("component", "dbhealth"),
		dbs:      make(map[string]*sql.DB),
	}

	for _, key := range slices.Sorted(maps.Keys(cfg.Profiles)) {
		p := cfg.Profiles[key]
		dsn, err := connectionString(cfg.ConnectionStringTemplate, p)
		if err != nil {
			return nil, fmt.Errorf("databases.profiles.%s: %w", key, err)
		}
		dsn, err = normalizeDSN(p.Driver, dsn, timeout)
		if err != nil {
			return nil, fmt.Errorf("databases.profiles.%s: %w", key, err)
		}
		f.profiles[key] = Profile{
			Key:            key,
			Driver:         p.Driver,
			ConnectionName: p.DisplayName(key),
			DSN:            dsn,
		}
	}
	return f, nil
}

// Timeout is the per-call deadline applied to health checks.
func (f *Factory) Timeout() time.Duration { return f.timeout }

// Profile returns the resolved profile for key.
func (f *Factory) Profile(key string) (Profile, bool) {
	p, ok := f.profiles[key]
	return p, ok
}

// DB returns the pooled handle for key, opening it on first use.
func (f *Factory) DB(key string) (*sql.DB, Profile, error) {
	p, ok := f.profiles[key]
	if !ok {
		return nil, Profile{}, fmt.Errorf("%w: %s", ErrUnknownProfile, key)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if db, ok := f.dbs[key]; ok {
		return db, p, nil
	}

	db, err := sql.Open(sqlDriverNames[p.Driver], p.DSN)
	if err != nil {
		return nil, p, fmt.Errorf("opening %s: %w", key, err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)
	f.dbs[key] = db
	f.logger.Debug("db handle opened", "profile", key, "driver", p.Driver)
	return db, p, nil
}

// Close closes every opened handle.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	for key, db := range f.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", key, err))
		}
	}
	clear(f.dbs)
	return errors.Join(errs...)
}

// connectionString returns the explicit string or fills the template.
// Every placeholder the template uses must have a value.
func connectionString(template string, p config.DBProfile) (string, error) {
	if p.ConnectionString != "" {
		return p.ConnectionString, nil
	}
	if template == "" {
		return "", errors.New("no connection_string and no connection_string_template")
	}

	port := ""
	if p.Port > 0 {
		port = strconv.Itoa(p.Port)
	}
	parts := []struct{ name, value string }{
		{"{Address}", p.Address},
		{"{Port}", port},
		{"{ServiceName}", p.ServiceName},
		{"{Login}", p.Login},
		{"{Password}", p.Password},
	}

	var missing []string
	pairs := make([]string, 0, len(parts)*2)
	for _, part := range parts {
		if strings.Contains(template, part.name) && part.value == "" {
			missing = append(missing, strings.Trim(part.name, "{}"))
		}
		pairs = append(pairs, part.name, part.value)
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template parts: %s", strings.Join(missing, ", "))
	}
	return strings.NewReplacer(pairs...).Replace(template), nil
}

// normalizeDSN checks dsn with the driver's own parser and applies the
// connect timeout where the driver supports one in the DSN.
func normalizeDSN(driver, dsn string, timeout time.Duration) (string, error) {
	switch driver {
	case config.DriverPostgres:
		if _, err := pgx.ParseConfig(dsn); err != nil {
			return "", fmt.Errorf("invalid postgres connection string: %w", err)
		}
		return dsn, nil
	case config.DriverMySQL:
		mc, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("invalid mysql connection string: %w", err)
		}
		if mc.Timeout == 0 {
			mc.Timeout = timeout
		}
		return mc.FormatDSN(), nil
	case config.DriverSQLite:
		return dsn, nil
	default:
		return "", fmt.Errorf("unsupported driver %q", driver)
	}
}
