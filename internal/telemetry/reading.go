package telemetry

import "time"

// Reading is one inside sample taken by the node's own sensors.
//
// Presence flags mark which facets this sample carries. A node without
// a battery gauge produces readings with HasBattery false for its whole
// life; a transient sensor fault clears the flag for that wake only.
type Reading struct {
	// TakenAt is when the sample was acquired (before the radio came up).
	TakenAt time.Time

	// Environment sensor values, valid when HasEnv is true.
	TempC       float64
	Humidity    float64
	PressureHPa float64
	HasEnv      bool

	// Battery gauge values, valid when HasBattery is true.
	BatteryVolts   float64
	BatteryPercent float64
	HasBattery     bool
}
