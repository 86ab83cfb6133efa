package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteWakeEpisode records the summary of one wake episode.
//
// The write is non-blocking; the point is batched and sent
// asynchronously once the link allows.
//
// Parameters:
//   - nodeID: Node identifier (e.g. "attic-01")
//   - fields: Episode outcome fields (durations, counts, flags)
//
// Example:
//
//	client.WriteWakeEpisode("attic-01", map[string]interface{}{
//	    "wifi_ms": 2150.0, "published": 3, "drained": 12,
//	})
func (c *Client) WriteWakeEpisode(nodeID string, fields map[string]interface{}) {
	if !c.IsOpen() || len(fields) == 0 {
		return
	}

	point := write.NewPoint(
		"wake_episode",
		map[string]string{
			"node_id": nodeID,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteReadingAt records a sensor reading with its acquisition time.
//
// Samples are taken before the radio comes up, so "now" at write time
// is wrong by however long the join took; the caller passes the true
// timestamp instead.
//
// Parameters:
//   - nodeID: Node identifier
//   - fields: Reading fields (temp_c, humidity, battery_volts, ...)
//   - at: When the sample was acquired
func (c *Client) WriteReadingAt(nodeID string, fields map[string]interface{}, at time.Time) {
	if !c.IsOpen() || len(fields) == 0 {
		return
	}

	point := write.NewPoint(
		"environment",
		map[string]string{
			"node_id": nodeID,
		},
		fields,
		at,
	)

	c.writeAPI.WritePoint(point)
}
