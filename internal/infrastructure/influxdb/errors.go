package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when the influxdb section has
	// enabled: false. The recorder treats it as "no long-term export".
	ErrDisabled = errors.New("influxdb: export disabled")

	// ErrNotConnected is returned after Close.
	ErrNotConnected = errors.New("influxdb: client closed")

	// ErrConnectionFailed wraps a failed or unhealthy startup ping.
	ErrConnectionFailed = errors.New("influxdb: server unreachable")
)
