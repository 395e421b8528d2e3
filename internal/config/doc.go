// Package config provides centralized configuration management for the
// Feelan runtime, loading a JSON file at startup and filling in defaults
// for any section the operator leaves out.
package config
