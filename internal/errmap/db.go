// ABOUTME: Classifies database driver failures by vendor error number
// ABOUTME: Knows SQLite result codes, Postgres SQLSTATEs and MySQL error numbers

package errmap

import (
	"context"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ClassifyDB maps a database failure onto the db_* part of the taxonomy.
// Vendor errors with an unrecognized number are ServerError; anything that is
// not a vendor error at all is Unknown.
func ClassifyDB(err error) Code {
	if err == nil {
		return None
	}

	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}

	if errors.Is(err, context.Canceled) {
		return AgentCanceled
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return classifySQLite(sqliteErr.Code())
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyPostgres(pgErr.Code)
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return classifyMySQL(myErr.Number)
	}

	// Driver-level connect failures carry no server number.
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || errors.Is(err, mysql.ErrInvalidConn) {
		return DBConnectionFailed
	}

	// Go drivers surface client-side timeouts as context deadlines rather
	// than vendor numbers.
	if errors.Is(err, context.DeadlineExceeded) {
		return DBTimeout
	}

	return Unknown
}

func classifySQLite(code int) Code {
	switch code & 0xff {
	case sqlite3.SQLITE_AUTH, sqlite3.SQLITE_PERM, sqlite3.SQLITE_READONLY:
		return DBUnauthorized
	case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_NOTADB:
		return DBConnectionFailed
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return DBTimeout
	default:
		return DBServerError
	}
}

func classifyPostgres(sqlState string) Code {
	switch {
	case sqlState == "28P01", sqlState == "28000", sqlState == "42501":
		// invalid_password, invalid_authorization_specification, insufficient_privilege
		return DBUnauthorized
	case strings.HasPrefix(sqlState, "08"), sqlState == "3D000", sqlState == "57P01", sqlState == "57P03":
		// connection_exception class, invalid_catalog_name, admin_shutdown, cannot_connect_now
		return DBConnectionFailed
	case sqlState == "57014", sqlState == "55P03":
		// query_canceled (statement_timeout), lock_not_available
		return DBTimeout
	default:
		return DBServerError
	}
}

func classifyMySQL(number uint16) Code {
	switch number {
	case 1044, 1045, 1698:
		// ER_DBACCESS_DENIED_ERROR, ER_ACCESS_DENIED_ERROR, ER_ACCESS_DENIED_NO_PASSWORD_ERROR
		return DBUnauthorized
	case 1040, 1049, 1053, 2002, 2003, 2005, 2006, 2013:
		// too many connections, unknown database, server shutdown, client connect failures
		return DBConnectionFailed
	case 1205, 3024:
		// lock wait timeout, max_execution_time exceeded
		return DBTimeout
	default:
		return DBServerError
	}
}
