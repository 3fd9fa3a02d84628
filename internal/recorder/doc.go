// Package recorder persists bus traffic for history queries.
//
// The Recorder subscribes to every event. state_changed events become rows
// in the states table; everything else goes to the events table. Numeric
// states are also written to InfluxDB when a sink is configured.
//
// Recording is best effort. The recorder reads from its own bounded
// subscription, so a slow disk loses history rows but never stalls the
// state store or the automation engine.
//
// # Usage
//
//	repo := recorder.NewSQLiteRepository(db.DB)
//	rec := recorder.New(repo, bus)
//	rec.SetInflux(influxClient)
//	if err := rec.Start(ctx); err != nil {
//	    return err
//	}
//	defer rec.Stop()
//
//	history, err := rec.History(ctx, recorder.Query{
//	    EntityIDs: []string{"sensor.living_temp"},
//	    Start:     time.Now().Add(-24 * time.Hour),
//	})
package recorder
