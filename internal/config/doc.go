// Package config provides configuration management for projectctl.
//
// Settings are layered with viper. Later sources override earlier ones:
//
//  1. Built-in defaults
//     - Make projectctl usable without any configuration file
//
//  2. Global configuration ($PROJECTCTL_HOME/config.yaml)
//     - Optional; a missing file is not an error, a malformed one is
//
//  3. Environment variables (PROJECTCTL_*)
//     - e.g. PROJECTCTL_LOCK_TIMEOUT=2s, PROJECTCTL_COMPOSE_COMMAND="podman compose"
//
// # Configuration Structure
//
//	editor: code
//	shell: /bin/zsh
//	compose_command: [docker, compose]
//	mru_limit: 10
//	concurrency: 4
//	lock_timeout: 5s
//	health_timeout: 30s
//	health_interval: 250ms
//	stop_grace_period: 10s
//	log_level: warn
//	log_format: text
//
// # Well-known Paths
//
// Paths resolves the state directory layout: the project registry
// (projects.yaml), its advisory lock (projects.lock), custom templates and
// per-service logs of managed processes. PROJECTCTL_HOME relocates all of
// them, which is how tests isolate themselves from the user's real state.
package config
