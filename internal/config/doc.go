// Package config loads and validates coven-operator configuration.
//
// # File Format
//
// Configuration is YAML with ${VAR} environment variable expansion:
//
//	gateway:
//	  url: "wss://coven-gateway.example.ts.net/ws"
//	  client_id: "operator-backend"
//	  scopes: ["chat", "sessions"]
//
//	auth:
//	  jwt_secret: "${COVEN_JWT_SECRET}"
//	  token_ttl: "5m"
//
//	timeouts:
//	  request: "30s"
//	  handshake: "15s"
//	  reconnect_initial: "1s"
//	  reconnect_max: "30s"
//
//	journal:
//	  enabled: true
//	  path: "~/.local/share/coven/operator-journal.db"
//
//	logging:
//	  level: "info"
//	  format: "text"
//
// Duration fields accept Go duration strings ("30s", "5m"). Unset timeouts
// fall back to the operator package defaults.
//
// # Validation
//
// Load validates that the gateway URL is a ws/wss URL, a client ID is set,
// and at least one credential (auth.token or auth.jwt_secret) is present.
package config
