// Package config defines the carbon-gate settings and provides helpers to
// load, validate and save them in YAML format.
//
// Secrets may also come from a .env file and from environment variables,
// which take precedence over the YAML values.
package config
