// Package config handles configuration loading for lynx-gateway.
//
// # Configuration File
//
// ResolvePath picks the file (in order):
//
//  1. Path passed with --config
//  2. Path from LYNX_CONFIG environment variable
//  3. ./config.yaml (current directory)
//  4. ~/.config/lynx/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${LYNX_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"        # REST API, WebSocket upgrades, health
//
//	database:
//	  path: "/var/lib/lynx/gateway.db"
//
//	auth:
//	  jwt_secret: "${LYNX_JWT_SECRET}" # required, at least 32 bytes
//	  token_ttl: "8760h"               # lifetime of issued credentials
//
//	sessions:
//	  max_message_size: 65536          # bytes per inbound frame
//	  write_timeout: "10s"
//	  send_buffer: 32                  # queued outbound envelopes per session
//	  allowed_origins: []              # empty allows any browser origin
//
//	logging:
//	  level: "info"                    # debug, info, warn, error
//	  format: "text"                   # text, json
//
//	metrics:
//	  enabled: false
//	  path: "/metrics"
//
// A missing or short auth.jwt_secret makes Load fail, so the gateway refuses
// to start rather than run with a guessable signing key.
package config
