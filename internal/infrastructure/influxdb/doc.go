// Package influxdb provides InfluxDB connectivity for railhub.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched writes and health monitoring. The hub uses it to keep
// a history of layout state changes (occupancy, points, signal aspects,
// decoder speed) for later inspection.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, influxdb.WithDefaultTag("site", cfg.Site.ID))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteEntityState(influxdb.EntityState{
//	    Topic: "railhub/block_detector/b1/state", Kind: "block_detector", Status: "on",
//	})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via the
// SetOnError callback. Connection and health check errors are returned directly.
package influxdb
