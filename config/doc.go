// Package config provides configuration loading from environment variables
// with automatic type conversion, default values, legacy-alias fallbacks,
// and .env file support.
//
// Configuration is struct-based: fields are mapped to environment variables
// through `env` tags, and every variable name is prefixed (default "AUTHKIT_")
// so several services can share an environment without collisions. Legacy
// alias names are looked up unprefixed, which keeps deployments that predate
// the canonical names working.
package config
