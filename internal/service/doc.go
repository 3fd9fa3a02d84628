// Package service maps (domain, service) pairs to handlers.
//
// Two kinds of handler can be registered:
//
//   - Handler runs once per call and sees the resolved target list. Engines
//     (automation, scene) and cross-domain services use it.
//   - EntityHandler is a pure transition from one entity's current record and
//     the call data to its next state and attributes. The registry applies it
//     to each target under that entity's store lock.
//
// Calls to unregistered turn_on, turn_off and toggle fall back to a generic
// on/off transition. Any other unknown service succeeds without effect.
//
// Built-in tables cover the common Home Assistant domains (light, cover,
// lock, climate, media_player, counter, input_* helpers and more); see
// RegisterBuiltins.
package service
