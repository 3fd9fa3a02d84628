package core

import "errors"

// Sentinel errors shared by the state store and its callers.
//
//	st, err := store.Get("light.kitchen")
//	if errors.Is(err, core.ErrNotFound) {
//	    // unknown entity
//	}
var (
	// ErrNotFound is returned when an entity id is not in the store.
	ErrNotFound = errors.New("core: entity not found")

	// ErrInvalidEntityID is returned for ids that are not lowercase domain.object_id.
	ErrInvalidEntityID = errors.New("core: invalid entity id")
)
