// Package config loads, normalizes, and validates Vigil configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// VIGIL_API_TOKEN. The Config type centralizes every knob the daemon and CLI
// need, from per-source decay half-lives to tier thresholds and delivery
// endpoints, so risk behavior is tuned in one place.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, complete threshold ladders, and
// clear validation errors.
package config
