// Package mqttstate bridges MQTT topics to hub entities.
//
// Devices report state on {prefix}/{domain}/{object_id}/state and the bridge
// writes it to the state store. Clients send commands on
// {prefix}/{domain}/{object_id}/set and the bridge turns them into service
// calls. With statestream enabled every state change is republished, retained,
// on {prefix}/statestream/{domain}/{object_id}/state.
//
// Payloads on a state topic are either a plain value, which keeps the entity's
// current attributes:
//
//	home/sensor/kitchen_temp/state  21.5
//
// or a JSON object, whose attributes replace the entity's attributes:
//
//	home/sensor/kitchen_temp/state  {"state": 21.5, "attributes": {"unit_of_measurement": "°C"}}
//
// Command payloads are ON, OFF, TOGGLE or a JSON service call:
//
//	home/light/hall/set  {"service": "turn_on", "data": {"brightness": 120}}
package mqttstate
