// Package config loads docflow settings from TOML with DOCFLOW_* environment
// overrides. Load applies defaults, decodes the file, applies the
// environment, normalises paths and validates the result.
package config
