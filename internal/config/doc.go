// Package config provides configuration loading and validation for the
// minutes service. Configuration is YAML layered over Default; credentials
// may reference environment variables, which can be seeded from .env files
// with LoadEnv.
package config
