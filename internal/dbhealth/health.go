// ABOUTME: Lightweight database health checks returning the connected database name
// ABOUTME: GetDBName runs a name query; Ping verifies the connection first

package dbhealth

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/2389/partner-poller/internal/config"
)

// nameQueries return the current database name per driver.
var nameQueries = map[string]string{
	config.DriverSQLite:   "SELECT file FROM pragma_database_list WHERE name = 'main'",
	config.DriverPostgres: "SELECT current_database()",
	config.DriverMySQL:    "SELECT DATABASE()",
}

// Checker runs health checks against factory profiles.
type Checker struct {
	factory *Factory
}

// NewChecker creates a Checker over f.
func NewChecker(f *Factory) *Checker {
	return &Checker{factory: f}
}

// Profile returns the resolved profile for key.
func (c *Checker) Profile(key string) (Profile, bool) {
	return c.factory.Profile(key)
}

// GetDBName returns the name of the database behind profile key.
func (c *Checker) GetDBName(ctx context.Context, key string) (string, error) {
	db, p, err := c.factory.DB(key)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, c.factory.Timeout())
	defer cancel()
	return queryName(ctx, db, p)
}

// Ping verifies connectivity for profile key and returns its database name.
func (c *Checker) Ping(ctx context.Context, key string) (string, error) {
	db, p, err := c.factory.DB(key)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, c.factory.Timeout())
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return "", fmt.Errorf("ping %s: %w", key, err)
	}
	return queryName(ctx, db, p)
}

func queryName(ctx context.Context, db *sql.DB, p Profile) (string, error) {
	var name sql.NullString
	if err := db.QueryRowContext(ctx, nameQueries[p.Driver]).Scan(&name); err != nil {
		return "", fmt.Errorf("db name %s: %w", p.Key, err)
	}
	switch {
	case p.Driver == config.DriverSQLite && name.String != "":
		return filepath.Base(name.String), nil
	case name.String == "":
		return p.ConnectionName, nil
	default:
		return name.String, nil
	}
}
