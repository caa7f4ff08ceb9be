// Package config handles configuration loading for partner-poller.
//
// # Overview
//
// Configuration is loaded from YAML (or TOML, by .toml extension) with
// environment variable expansion. Load applies defaults and validates.
//
// # Configuration File
//
// Locations (in order):
//
//  1. Path given with -config
//  2. Path from POLLER_CONFIG environment variable
//  3. ./config.yaml, ./config.yml, ./config.toml
//
// A .env file next to the config file, or the file named by POLLER_ENV_FILE,
// is loaded before parsing. Variables already in the environment win.
//
// # Environment Variable Expansion
//
//	services:
//	  uzstandart:
//	    auth_bearer: "${UZSTANDART_TOKEN}"
//
// # Configuration Sections
//
//	app:
//	  env: "prod"
//	  timezone: "Asia/Tashkent"     # daily_at schedules use this zone
//
//	logging:
//	  level: "info"                 # debug, info, warn, error
//	  format: "text"                # text, json
//
//	http:
//	  timeout_seconds: 30
//
//	services:
//	  uzstandart:
//	    base_url: "https://api.example.uz"
//	    endpoint: "/v1/standards"
//	    auth_bearer: "${UZSTANDART_TOKEN}"
//	    http_timeout_seconds: 20    # overrides http.timeout_seconds
//
//	databases:
//	  connection_string_template: "postgres://{Login}:{Password}@{Address}:{Port}/{ServiceName}"
//	  profiles:
//	    eko_test:
//	      driver: "postgres"        # sqlite, postgres, mysql
//	      name: "Eko"
//	      lvl: "test"
//	      address: "db.internal"
//	      port: 5432
//	      service_name: "eko"
//	      login: "poller"
//	      password: "${EKO_DB_PASSWORD}"
//
//	runtime_state:
//	  path: "runtime_state.json"
//
//	observer:
//	  http_addr: "127.0.0.1:8088"   # empty disables the API
//
//	telemetry:
//	  endpoint: "localhost:4318"    # empty disables OTLP export
//	  insecure: true
//
//	agents:
//	  uzstandart:
//	    enabled: true
//	    display_name: "UzStandart"
//	    service: "uzstandart"
//	    db_profile: "eko_test"
//	    schedule:
//	      every_minutes: 10         # or every_seconds, every_hours, daily_at: "22:00"
//	    paging:
//	      start_page: 1
//	      per_page: 10
//	      max_pages_per_tick: 1
//
// # Validation
//
// Load() rejects unknown YAML keys, agent ids that are not lowercase tokens,
// references to undefined services or db profiles, malformed schedules,
// non-positive paging values and unsupported database drivers.
package config
