// Package config loads the hub's YAML configuration.
//
// Load reads the file (expanding ${VAR} references), fills defaults for
// anything omitted, applies GRAYHUB_SECTION_KEY environment overrides and
// validates the result.
// The site block (name, timezone, unit_system, location) is what get_config
// reports and what sun triggers use. Automation and scene files are
// referenced by path and parsed by their own packages.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//		return err
//	}
//	srv.ReadTimeout = cfg.API.Timeouts.ReadTimeout()
//
// Secrets (security.jwt.secret, security.tokens, mqtt.auth.password) belong in the
// environment or a .env file rather than the YAML.
package config
