package mqttstate

import "errors"

var (
	// ErrInvalidTopic is returned for topics outside the entity topic tree.
	ErrInvalidTopic = errors.New("mqttstate: invalid topic")

	// ErrInvalidPayload is returned for payloads that cannot be decoded.
	ErrInvalidPayload = errors.New("mqttstate: invalid payload")

	// ErrCommandsDisabled is returned when a command arrives with commands turned off.
	ErrCommandsDisabled = errors.New("mqttstate: commands disabled")
)
