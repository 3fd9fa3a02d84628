// Package logging builds the hub's slog logger.
//
// Every record carries service=grayhub and the build version. Packages that
// log get a child via Component, which adds component=<name>:
//
//	log := logging.New(cfg.Logging, version)
//	h, err := hub.New(ctx, hub.Options{Config: cfg, Logger: log})
//	...
//	log.Component("automation").Info("reloaded", "count", n)
//
// Format is json or text, level is debug, info, warn or error, and output is
// stdout or stderr. Tests use Discard.
//
// Access tokens and the JWT secret must never be passed as log fields.
package logging
