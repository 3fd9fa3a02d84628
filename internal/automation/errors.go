package automation

import "errors"

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, automation.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when an automation id or entity does not exist.
	ErrNotFound = errors.New("automation: not found")

	// ErrInvalidConfig is returned when an automation definition cannot be parsed.
	ErrInvalidConfig = errors.New("automation: invalid config")

	// ErrActionFailed wraps the failure that aborted one run.
	ErrActionFailed = errors.New("automation: action failed")

	// ErrTargetMissing is returned when every target of a service action is absent.
	ErrTargetMissing = errors.New("automation: target entities not found")

	// ErrConditionFailed is returned by condition evaluation that cannot complete.
	ErrConditionFailed = errors.New("automation: condition error")
)

// errStop ends a run early without failing it.
var errStop = errors.New("automation: stopped")
