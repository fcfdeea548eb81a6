// Package config handles configuration loading for todovex.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Files ending in .toml are decoded as TOML; anything else is YAML.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from TODOVEX_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/todovex/config.yaml
//  3. ~/.config/todovex/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  adapter_secret: "${CONVEX_AUTH_ADAPTER_SECRET}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  grpc_addr: "0.0.0.0:50051"  # backend store surface
//	  http_addr: "0.0.0.0:8080"   # app API
//
// Database:
//
//	database:
//	  path: "/var/lib/todovex/todovex.db"
//
// Authentication:
//
//	auth:
//	  adapter_secret: "${CONVEX_AUTH_ADAPTER_SECRET}"  # required
//	  session_max_age: "720h"
//	  session_update_age: "24h"
//	  verification_token_ttl: "24h"
//
// AI:
//
//	ai:
//	  api_key: "${OPENAI_API_KEY}"  # required
//	  chat_model: "gpt-3.5-turbo"
//	  embedding_model: "text-embedding-ada-002"
//	  suggestion_concurrency: 4
//	  request_timeout: "60s"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() fails fast when auth.adapter_secret or ai.api_key is empty. Those
// failures carry apperr.Configuration so callers can tell a misconfigured
// deployment from a malformed file.
package config
