// Package config loads the balancer configuration from a YAML file,
// environment variables and bound command line flags, and validates it.
// Durations accept Go duration strings such as "500ms" or "5s".
package config
