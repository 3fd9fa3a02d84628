// Package mqtt provides MQTT client connectivity for the Gray Logic Hub.
//
// This package manages:
//   - Connection to the broker with backoff reconnect, bounded by
//     mqtt.reconnect.max_attempts when set
//   - Publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored after reconnect
//   - Last Will and Testament on the hub availability topic
//
// # Topics
//
// Everything lives under one configurable prefix (default "home"):
//
//	home/{domain}/{object_id}/state              device → hub state reports
//	home/{domain}/{object_id}/set                client → hub commands
//	home/statestream/{domain}/{object_id}/state  hub → everyone, retained
//	home/status                                  "online"/"offline", retained
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllEntityStates(), 1, handler)
package mqtt
