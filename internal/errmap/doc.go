// Package errmap classifies low-level failures into a closed taxonomy of
// error codes.
//
// # Codes
//
// Codes are partitioned into domains:
//
//   - API / network: api_timeout, api_connection_failed, api_http_error,
//     api_invalid_response, api_success_false, api_unauthorized,
//     api_rate_limited, api_server_error
//   - Database: timeout, connection_failed, unauthorized, server_error
//   - Data: data_empty, data_parse_error, data_validation_error
//   - Agent infrastructure: agent_canceled, agent_misconfigured,
//     agent_internal_error
//   - unknown
//
// Codes serialize as their lower-case names and parse case-insensitively;
// unrecognized names parse to Unknown instead of failing.
//
// # Classifiers
//
// Classify handles transport and protocol failures raised while talking to a
// partner API. ClassifyDB handles failures raised by database drivers
// (SQLite, Postgres, MySQL) and matches well-known vendor error numbers.
//
// Both unwrap to the innermost cause before matching. A *Error anywhere in the
// chain short-circuits classification with its explicit code.
package errmap
