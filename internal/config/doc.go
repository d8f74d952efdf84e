// Package config loads fleetwatch configuration from YAML.
//
// Values may reference environment variables as ${VAR}. Load decodes the
// file as written, LoadWithDefaults fills unset fields, and LoadAndValidate
// additionally checks field constraints and cross-field rules.
package config
