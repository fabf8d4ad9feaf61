// Package config provides configuration parsing for tether projects.
//
// The configuration is stored in tether.json, tether.yaml or tether.yml at
// the project root. TETHER_* environment variables override file values and
// the result is validated before it is turned into a server.Config.
//
// # Configuration File Structure
//
//	host: 0.0.0.0
//	port: 8080
//	debug: false
//	clientType: vue3
//	shutdownTimeout: 10s
//	maxFlushCascade: 32
//	websocket:
//	  path: /ws
//	  sendBuffer: 256
//	  allowedOrigins: [app.example.com]
//	metrics:
//	  enabled: true
//	  path: /metrics
//
// # Environment
//
//	TETHER_HOST, TETHER_PORT, TETHER_DEBUG, TETHER_CLIENT_TYPE,
//	TETHER_SHUTDOWN_TIMEOUT, TETHER_MAX_FLUSH_CASCADE, TETHER_STRICT_TRIGGERS,
//	TETHER_WS_PATH, TETHER_WS_MAX_MESSAGE_SIZE, TETHER_WS_SEND_BUFFER,
//	TETHER_WS_ALLOWED_ORIGINS, TETHER_METRICS
//
// # Usage
//
//	cfg, err := config.Resolve(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sc, err := cfg.ServerConfig()
package config
