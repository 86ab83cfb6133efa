package session

import (
	"encoding/json"
	"fmt"
)

// DeviceInfo is the device grouping block shared by every discovery
// document, so Home Assistant files all of the node's sensors under
// one device entry.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
}

// sensorConfig is a Home Assistant MQTT discovery document for one
// sensor entity.
type sensorConfig struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	StateTopic        string     `json:"state_topic"`
	AvailabilityTopic string     `json:"availability_topic"`
	DeviceClass       string     `json:"device_class,omitempty"`
	StateClass        string     `json:"state_class,omitempty"`
	UnitOfMeasurement string     `json:"unit_of_measurement,omitempty"`
	Device            DeviceInfo `json:"device"`
}

// discoveryField describes one advertised sensor entity.
type discoveryField struct {
	field       string // topic component under the discovery prefix
	name        string // display name suffix
	deviceClass string
	unit        string
	stateTopic  func(m *Manager) string
}

// discoveryFields lists the entities the node advertises. Battery
// entities are advertised unconditionally; a node without a fuel gauge
// simply never publishes to their state topics.
var discoveryFields = []discoveryField{
	{
		field:       "temp",
		name:        "Inside Temperature",
		deviceClass: "temperature",
		unit:        "°C",
		stateTopic:  func(m *Manager) string { return m.topics.InsideTemp() },
	},
	{
		field:       "hum",
		name:        "Inside Humidity",
		deviceClass: "humidity",
		unit:        "%",
		stateTopic:  func(m *Manager) string { return m.topics.InsideHumidity() },
	},
	{
		field:       "pressure",
		name:        "Pressure",
		deviceClass: "atmospheric_pressure",
		unit:        "hPa",
		stateTopic:  func(m *Manager) string { return m.topics.InsidePressure() },
	},
	{
		field:       "battery_voltage",
		name:        "Battery Voltage",
		deviceClass: "voltage",
		unit:        "V",
		stateTopic:  func(m *Manager) string { return m.topics.BatteryVoltage() },
	},
	{
		field:       "battery",
		name:        "Battery",
		deviceClass: "battery",
		unit:        "%",
		stateTopic:  func(m *Manager) string { return m.topics.BatteryPercent() },
	},
}

// deviceInfo returns the shared device block for this node.
func (m *Manager) deviceInfo() DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{fmt.Sprintf("graynode_%s", m.cfg.Node.ID)},
		Name:         m.cfg.Node.Name,
		Manufacturer: "Gray Logic",
		Model:        "Sensor Node",
	}
}

// publishDiscovery publishes retained discovery documents for every
// advertised entity. Failures are logged and skipped; missing
// discovery metadata degrades the hub UI, not the telemetry.
func (m *Manager) publishDiscovery(client MQTTClient) {
	device := m.deviceInfo()

	for _, f := range discoveryFields {
		doc := sensorConfig{
			Name:              fmt.Sprintf("%s %s", m.cfg.Node.Name, f.name),
			UniqueID:          fmt.Sprintf("graynode_%s_%s", m.cfg.Node.ID, f.field),
			StateTopic:        f.stateTopic(m),
			AvailabilityTopic: m.topics.Availability(),
			DeviceClass:       f.deviceClass,
			StateClass:        "measurement",
			UnitOfMeasurement: f.unit,
			Device:            device,
		}

		payload, err := json.Marshal(doc)
		if err != nil {
			m.log.Warn("discovery marshal failed", "field", f.field, "error", err)
			continue
		}

		topic := m.topics.Discovery(m.cfg.Node.DiscoveryPrefix, f.field)
		if err := client.Publish(topic, payload, true); err != nil {
			m.log.Warn("discovery publish failed", "topic", topic, "error", err)
		}
	}
}
