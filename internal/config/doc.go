// Package config provides configuration loading and validation for the transcript relay.
// It handles YAML-based configuration with per-section validation, defaults that match
// the push-to-talk firmware and viewer page, and environment overrides for secrets.
package config
