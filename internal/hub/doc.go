// Package hub wires the core together.
//
// A Hub owns one event bus, one state store and one service registry, and
// the engines built on them. There are no package-level registries: every
// component receives its collaborators from here.
//
// Lifecycle:
//
//	h, err := hub.New(ctx, hub.Options{Config: cfg, Logger: log})
//	if err := h.Start(ctx); err != nil { ... }
//	go h.Run(ctx)   // sun tracking and recorder purging
//	defer h.Close()
package hub
