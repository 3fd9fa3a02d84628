// Package logbook keeps a readable trail of what happened in the hub.
//
// A Logbook subscribes to the event bus and turns a few event types into
// entries: state changes of on/off style entities, automation runs, hub
// start and stop, and explicit logbook_entry events fired by logbook.log.
// Continuous sensors (anything with a unit_of_measurement) are left to the
// recorder.
package logbook
