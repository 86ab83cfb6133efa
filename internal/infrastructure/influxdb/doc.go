// Package influxdb provides wake-episode diagnostics storage for Gray
// Logic Node.
//
// It wraps the official influxdb-client-go v2 library with the node's
// usage pattern: the client is created while the radio is still down,
// points accumulate in the batch buffer, and everything flushes once
// the episode has a link. The node's sensor readings travel over MQTT;
// this store only holds the operational record of each wake (join and
// drain durations, publish counts, battery trend).
//
// # Usage
//
//	client, err := influxdb.Open(cfg.InfluxDB)
//	if err != nil {
//	    // ErrDisabled when the section is off; run without diagnostics
//	}
//	defer client.Close()
//
//	client.WriteWakeEpisode("attic-01", map[string]interface{}{
//	    "wifi_ms":   2150.0,
//	    "published": 3,
//	})
//	client.Flush() // before sleep, while the link is still up
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via
// the SetOnError callback. Open fails only on disabled configuration;
// reachability is a HealthCheck concern, checked after the link is up.
package influxdb
