// Package dbhealth resolves database profiles into connections and checks
// that they answer.
//
// # Profiles
//
// A profile either carries an explicit connection_string or is rendered from
// the shared connection_string_template, whose placeholders are {Address},
// {Port}, {ServiceName}, {Login} and {Password}. Resolution happens once per
// profile and the resulting *sql.DB is cached until Close.
//
// # Drivers
//
//   - sqlite: modernc.org/sqlite, database name from pragma_database_list
//   - postgres: github.com/jackc/pgx/v5/stdlib, current_database()
//   - mysql: github.com/go-sql-driver/mysql, DATABASE()
//
// When a driver cannot report a name, the profile's display name is used.
package dbhealth
