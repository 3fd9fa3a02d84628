// Package scene provides the scene engine for the hub.
//
// A scene is a named map of entity id → desired state and attributes.
// Activating it drives every listed entity to that target through the
// service registry's reproduce path, so domain rules (light on/off, cover
// position, lock state) apply exactly as for a service call. Entities not in
// the scene are never touched; entities missing from the store are created.
// Activation is per-entity atomic and idempotent.
//
// Architecture:
//
//	┌───────────────────────────────────────────────────────┐
//	│                  Engine (engine.go)                    │
//	│  ┌──────────────┐    ┌────────────────┐               │
//	│  │   Registry   │───▶│     Store      │  SQLite       │
//	│  │(registry.go) │    │   (store.go)   │  (scene.create)│
//	│  └──────────────┘    └────────────────┘               │
//	│        ▲                                               │
//	│        └── scenes.yaml (file.go, read-only)            │
//	│                                                        │
//	│  Activate: sorted entity ids → service.Reproduce       │
//	│  then scene.<id> state = activation time               │
//	└───────────────────────────────────────────────────────┘
//
// # Thread Safety
//
// Registry and Engine are safe for concurrent use from multiple goroutines.
//
// # Usage
//
//	registry := scene.NewRegistry(scene.NewSQLStore(db.DB))
//	engine := scene.NewEngine(registry, services, store, bus)
//	engine.SetFile("scenes.yaml")
//	if err := engine.Reload(ctx); err != nil {
//	    return err
//	}
//	engine.RegisterServices(services)
package scene
