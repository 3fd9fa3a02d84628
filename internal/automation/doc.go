// Package automation runs Home Assistant style automations: triggers,
// conditions and actions evaluated against the hub's state store and bus.
//
// Architecture:
//
//	┌───────────────────────────────────────────────────────────┐
//	│                    Engine (engine.go)                     │
//	│                                                           │
//	│   bus events ──▶ dispatch ──┐      scheduler (1s tick) ─┐ │
//	│                             ▼                           ▼ │
//	│                   trigger matching (trigger.go)           │
//	│                             │ enabled automations only    │
//	│                             ▼                             │
//	│          per-automation worker (mode: single/restart/     │
//	│          queued), one action sequence at a time           │
//	│                             │                             │
//	│              conditions (condition.go) ─▶ actions         │
//	│                                          (action.go)      │
//	└───────────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Config: parsed automation definition (triggers, conditions, actions, mode)
//   - Engine: owns automation runtimes and their automation.* entities
//   - FileStore: automations.yaml persistence for the config API
//
// # Thread Safety
//
// Engine and FileStore are safe for concurrent use. Matching runs on the
// dispatch goroutine; action sequences run on each automation's worker, so
// a slow or delayed automation never blocks the bus or other automations.
//
// # Usage
//
//	engine := automation.NewEngine(store, services, bus, renderer)
//	engine.SetStore(automation.NewFileStore("automations.yaml"))
//	if err := engine.RegisterServices(services); err != nil {
//	    return err
//	}
//	if err := engine.Reload(ctx); err != nil {
//	    return err
//	}
//	engine.Start()
//	defer engine.Stop()
package automation
