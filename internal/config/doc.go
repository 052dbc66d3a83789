// Package config provides configuration loading and validation for the BLD decoder.
// Values come from built-in defaults, an optional YAML file, and command-line flags,
// in increasing order of precedence.
package config
