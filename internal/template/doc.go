// Package template renders the Jinja-style expressions used in automation
// conditions, action data and the /api/template endpoint.
//
// Rendering is backed by pongo2. Every template sees these helpers:
//
//	states('sensor.temp')             current state string, "unknown" if absent
//	is_state('light.x', 'on')         state equality
//	state_attr('light.x', 'brightness')
//	is_state_attr('light.x', 'brightness', 255)
//	now()                             current local time
//
// plus the caller's variables (trigger, this, ...). Entity records passed as
// variables should go through StateVars so templates can use
// trigger.to_state.state and friends.
package template
