package mqtt

import "fmt"

// Topics builds the node's MQTT topic strings.
//
// All node-owned topics live under <base>/<node-id>/. Hub-owned topics
// (weather feed, hub status) are configured absolute paths; the
// builders here only join them, they do not assume a layout.
//
// Usage:
//
//	topics := mqtt.Topics{Base: "graylogic/node", NodeID: "attic-01"}
//	topics.Availability()  // "graylogic/node/attic-01/availability"
//	topics.InsideTemp()    // "graylogic/node/attic-01/inside/temp"
type Topics struct {
	// Base is the configured node topic prefix, e.g. "graylogic/node".
	Base string

	// NodeID is this node's identifier, e.g. "attic-01".
	NodeID string
}

// =============================================================================
// Availability
// =============================================================================

// Availability returns the retained availability topic. Carries
// "online" while a session is up and "offline" otherwise, via either
// a graceful publish or the broker-held will.
func (t Topics) Availability() string {
	return fmt.Sprintf("%s/%s/availability", t.Base, t.NodeID)
}

// =============================================================================
// Live state
// =============================================================================

// InsideTemp returns the topic for the current inside temperature in
// degrees Celsius.
func (t Topics) InsideTemp() string {
	return fmt.Sprintf("%s/%s/inside/temp", t.Base, t.NodeID)
}

// InsideHumidity returns the topic for the current inside relative
// humidity in percent.
func (t Topics) InsideHumidity() string {
	return fmt.Sprintf("%s/%s/inside/hum", t.Base, t.NodeID)
}

// InsidePressure returns the topic for the current barometric pressure
// in hPa.
func (t Topics) InsidePressure() string {
	return fmt.Sprintf("%s/%s/inside/pressure", t.Base, t.NodeID)
}

// BatteryVoltage returns the topic for the current battery voltage.
func (t Topics) BatteryVoltage() string {
	return fmt.Sprintf("%s/%s/battery/voltage", t.Base, t.NodeID)
}

// BatteryPercent returns the topic for the estimated battery charge in
// percent.
func (t Topics) BatteryPercent() string {
	return fmt.Sprintf("%s/%s/battery/percent", t.Base, t.NodeID)
}

// =============================================================================
// History
// =============================================================================

// InsideHistory returns the topic buffered samples replay to. History
// messages are not retained; consumers are expected to be listening or
// to not care.
func (t Topics) InsideHistory() string {
	return fmt.Sprintf("%s/%s/inside/history", t.Base, t.NodeID)
}

// =============================================================================
// Discovery
// =============================================================================

// Discovery returns the retained Home Assistant discovery topic for
// one of the node's sensor fields.
//
// Parameters:
//   - prefix: discovery prefix, normally "homeassistant"
//   - field: sensor field identifier, e.g. "temp" or "battery"
func (t Topics) Discovery(prefix, field string) string {
	return fmt.Sprintf("%s/sensor/%s_%s/config", prefix, t.NodeID, field)
}

// =============================================================================
// Hub topics
// =============================================================================

// Weather returns a single weather feed topic under the hub's
// configured weather prefix.
//
// Parameters:
//   - prefix: configured weather topic prefix, e.g. "graylogic/weather"
//   - suffix: feed suffix, e.g. "temp_f" or "wind_mph"
func (t Topics) Weather(prefix, suffix string) string {
	return fmt.Sprintf("%s/%s", prefix, suffix)
}
