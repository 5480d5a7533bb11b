// Package config loads the readerlink daemon configuration from YAML.
//
// A minimal file looks like:
//
//	policy: persist
//	device_type: standard
//	discovery_method: proximity
//	adapter: sim
//	state_file: /var/lib/readerlink/state.json
//	trace_file: /var/log/readerlink/agent.rlog
//	log_level: info
//
// Only policy is required; everything else has a default. Values are
// validated at load time so a bad policy fails before any hardware is
// touched.
package config
