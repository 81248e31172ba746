// Package config handles configuration loading for meetup-chat.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from MEETUP_CHAT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/meetup-chat/config.yaml (~/.config when unset)
//
// Files ending in .toml are read as TOML; everything else as YAML. A missing
// default file is not an error: the environment alone can configure the
// client.
//
// # Environment Variables
//
// Values can reference environment variables:
//
//	auth:
//	  token: "${MEETUP_TOKEN}"
//
// Every field can also be overridden by a MEETUP_CHAT_<SECTION>_<FIELD>
// variable, which wins over the file:
//
//	MEETUP_CHAT_SESSION_MEETUP_ID=42
//	MEETUP_CHAT_LOGGING_LEVEL=debug
//
// # Configuration Sections
//
//	server:
//	  ws_url: "wss://chat.example.com/ws"     # required
//	  api_url: "https://chat.example.com"     # history and presence snapshot
//
//	session:
//	  meetup_id: 42                           # required
//	  reconnect_initial_delay: "1s"
//	  reconnect_max_delay: "30s"
//	  max_reconnect_attempts: 5
//	  heartbeat_interval: "30s"
//	  queue_capacity: 50
//	  queue_max_age: "5m"
//
//	chat:
//	  typing_idle: "2s"
//	  receipt_ttl: "1h"
//	  receipt_capacity: 10000
//
//	auth:
//	  token: "${MEETUP_TOKEN}"                # required
//	  jwt_secret: ""                          # optional local signature check
//
//	store:
//	  path: "~/.local/share/meetup-chat/chat.db"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Durations use time.ParseDuration syntax and must be positive.
package config
