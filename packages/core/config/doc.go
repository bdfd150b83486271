// Package config handles configuration loading and management for courier.
//
// It provides functionality for:
//   - Loading configuration from .courier.json, courier.config.json or
//     .courier.yaml files
//   - Default configuration values
//   - Merging command line overrides onto file settings
package config
