// Package config loads and validates the caffeinestack-server configuration.
//
// Load(path) reads a YAML file laid out as below, fills defaults and
// validates it:
//
//	server:
//	  http_port: 8080
//	  auth:     { mode, key_env, header, jwt_secret_env, token_ttl }
//	  storage:  { driver, path, dsn_env, retention }
//	  level:    { history_window }
//	  stream:   { interval }
//	  alerts:   { rules, webhooks }
//	log:
//	  level: info
//
// Secrets are never stored in the file. Fields ending in _env name the
// environment variable that holds the value. LoadDotEnv populates the
// environment from a .env file before Load is called.
//
// Watch(ctx, path, fn) re-loads the file whenever it is written and passes
// the new Config to fn. Only log level and alert rules are applied live.
package config
