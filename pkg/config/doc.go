// Package config loads client configuration from YAML, with
// environment variable expansion for secrets.
package config
