// Package influxdb exports numeric entity states to InfluxDB 2.x.
//
// The recorder hands every state that parses as a number to
// WriteEntityState, which queues an "entity_state" point tagged with
// entity_id, domain and unit. Batches are flushed in the background;
// write failures are counted and reported through SetOnError.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//		// export off
//	}
//	defer client.Close()
package influxdb
