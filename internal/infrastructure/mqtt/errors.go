package mqtt

import "errors"

// Errors returned by the broker client. Wrapped errors keep these as their
// cause, so callers match with errors.Is.
var (
	// ErrNotConnected means the broker link is down. Publishes are not queued.
	ErrNotConnected = errors.New("mqtt: not connected to broker")

	// ErrConnectionFailed wraps the cause of a failed Connect.
	ErrConnectionFailed = errors.New("mqtt: broker connection failed")

	// ErrPublishFailed covers oversized payloads, publish timeouts and broker errors.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is also returned for a nil message handler.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS rejects anything outside 0..2.
	ErrInvalidQoS = errors.New("mqtt: qos must be 0, 1 or 2")

	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
