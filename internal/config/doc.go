// Package config loads convo-console configuration.
//
// Files are YAML by default; a .toml extension selects TOML. ${VAR} references
// are expanded from the environment before decoding, durations are written
// as Go duration strings ("200ms", "5s") and parsed after decoding, then
// defaults are applied and the result validated.
//
// # Example
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//
//	database:
//	  backend: sqlite          # sqlite | bolt | memory
//	  path: "/var/lib/convo-console/console.db"
//
//	session:
//	  backend: memory          # memory | redis
//	  idle_ttl: "12h"
//	  redis:
//	    addr: "localhost:6379"
//
//	widget:
//	  project_id: "iasm-governadoria-prod"
//	  agent_id: "f13baa59-1f3d-4699-98aa-88eed213b838"
//	  language_code: "pt-br"
//	  max_query_length: "-1"
//	  chat_title: "Faça perguntas sobre os projetos"
//
//	capture:
//	  poll_interval: "200ms"
//	  arm_timeout: "5s"
//	  title_max_len: 50
//
//	report:
//	  endpoint: "http://localhost:3000/api/generate-report"
//
//	auth:
//	  session_secret: "${CONVO_CONSOLE_SECRET}"
//
//	logging:
//	  level: info              # debug | info | warn | error
//	  format: text             # text | json
//
// The config path comes from CONVO_CONSOLE_CONFIG, falling back to
// $XDG_CONFIG_HOME/convo-console/config.yaml.
package config
