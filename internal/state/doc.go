// Package state holds the authoritative entity state store.
//
// Every write goes through a per-entity lock, so concurrent writers to the same
// entity never interleave and the last write to complete wins. Writes to
// different entities proceed in parallel. Reads are lock-free snapshots.
//
// Each successful write mints a fresh context, refreshes last_updated, moves
// last_changed only when the state string differs, and publishes a
// state_changed event before the entity lock is released, so subscribers see
// one entity's changes in write order.
package state
