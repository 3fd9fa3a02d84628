// Package core holds the hub's shared data model: entity states, events,
// the context that links a write to whatever caused it, and entity-id rules.
//
// Everything here is plain data. The state store, event bus, service
// registry and engines all exchange these types.
//
// Entity states are immutable once written: the store replaces the whole
// record on every write, so a *EntityState carried in an event can be read
// from any goroutine without locking. Callers that want to modify
// attributes take a Clone first.
package core
