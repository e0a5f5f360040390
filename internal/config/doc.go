// Package config loads, normalizes, and validates Goggles configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// GOGGLES_CATALOG_DSN. The asset endpoint paths themselves are fixed; only the
// host serving them is configurable.
package config
