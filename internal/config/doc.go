// Package config loads, normalizes, and validates rivalcast configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// RIVALCAST_CONCURRENCY and RIVALCAST_LLM_API_KEY. The Config type centralizes
// every knob the daemon and CLI need, from the dispatcher concurrency ceiling
// to the external speech and model endpoints.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
