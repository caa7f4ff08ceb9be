// ABOUTME: Closed error-code taxonomy shared by agents, runtime state and events
// ABOUTME: Codes marshal as lower-case names and parse leniently to Unknown

package errmap

import (
	"strings"
)

// Code is a classified failure. The zero value is None.
type Code int

const (
	None Code = iota

	APITimeout
	APIConnectionFailed
	APIHTTPError
	APIInvalidResponse
	APIBusinessFailure
	APIUnauthorized
	APIRateLimited
	APIServerError

	DBTimeout
	DBConnectionFailed
	DBUnauthorized
	DBServerError

	DataEmpty
	DataParseError
	DataValidationError

	AgentCanceled
	AgentMisconfigured
	AgentInternalError

	Unknown
)

var codeNames = map[Code]string{
	None:                "none",
	APITimeout:          "api_timeout",
	APIConnectionFailed: "api_connection_failed",
	APIHTTPError:        "api_http_error",
	APIInvalidResponse:  "api_invalid_response",
	APIBusinessFailure:  "api_success_false",
	APIUnauthorized:     "api_unauthorized",
	APIRateLimited:      "api_rate_limited",
	APIServerError:      "api_server_error",
	DBTimeout:           "timeout",
	DBConnectionFailed:  "connection_failed",
	DBUnauthorized:      "unauthorized",
	DBServerError:       "server_error",
	DataEmpty:           "data_empty",
	DataParseError:      "data_parse_error",
	DataValidationError: "data_validation_error",
	AgentCanceled:       "agent_canceled",
	AgentMisconfigured:  "agent_misconfigured",
	AgentInternalError:  "agent_internal_error",
	Unknown:             "unknown",
}

var codesByName = func() map[string]Code {
	m := make(map[string]Code, len(codeNames))
	for c, n := range codeNames {
		m[n] = c
	}
	return m
}()

// String returns the lower-case symbolic name of the code.
func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return codeNames[Unknown]
}

// ParseCode parses a code name case-insensitively. Unrecognized names,
// including the empty string, yield Unknown.
func ParseCode(s string) Code {
	if c, ok := codesByName[strings.ToLower(strings.TrimSpace(s))]; ok {
		return c
	}
	return Unknown
}

// MarshalText implements encoding.TextMarshaler.
func (c Code) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Code) UnmarshalText(text []byte) error {
	*c = ParseCode(string(text))
	return nil
}

// Domain reports which part of the taxonomy a code belongs to:
// "api", "db", "data", "agent", or "" for None and Unknown.
func (c Code) Domain() string {
	switch {
	case c >= APITimeout && c <= APIServerError:
		return "api"
	case c >= DBTimeout && c <= DBServerError:
		return "db"
	case c >= DataEmpty && c <= DataValidationError:
		return "data"
	case c >= AgentCanceled && c <= AgentInternalError:
		return "agent"
	default:
		return ""
	}
}

// Codes returns every code in declaration order.
func Codes() []Code {
	out := make([]Code, 0, int(Unknown)+1)
	for c := None; c <= Unknown; c++ {
		out = append(out, c)
	}
	return out
}
