// Package config loads, normalizes, and validates cardmint configuration.
//
// Configuration comes from a TOML file resolved from an explicit path, the
// user config directory, or a project-local cardmint.toml, layered over
// Default(). Path fields are home-expanded and made absolute during load so
// downstream components never deal with relative paths.
package config
