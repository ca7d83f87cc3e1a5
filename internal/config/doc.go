// Package config loads the daemon configuration: a JSON file located by
// DVN_CONFIG (default configs/dvn.json) whose relative paths are resolved
// against the file's directory. Chain definitions and specialization profiles
// live in YAML side files referenced from it; signing keys are read from
// environment variables named in the file.
package config
