// Package telemetry holds the node's in-memory view of the outside world
// and the reading types produced by its own sensors.
//
// The Snapshot is rebuilt from scratch every wake episode: subscribing to
// the hub's retained weather topics repopulates it within moments of a
// session starting. Each field carries its own validity flag so a display
// can distinguish "never received" from a zero value.
package telemetry

import "sync"

// Values is a point-in-time copy of the outside-world snapshot.
//
// Every field is paired with a Valid flag; consumers must check the flag
// before trusting the value. Temperatures are Celsius, wind is m/s,
// regardless of the units the hub published in.
type Values struct {
	TempC      float64
	TempCValid bool

	Humidity      float64
	HumidityValid bool

	Condition      string
	ConditionValid bool

	ConditionCode      int
	ConditionCodeValid bool

	Description      string
	DescriptionValid bool

	Icon      string
	IconValid bool

	WindMps      float64
	WindMpsValid bool

	DailyHighC      float64
	DailyHighCValid bool

	DailyLowC      float64
	DailyLowCValid bool
}

// Snapshot accumulates outside readings as they arrive from the hub.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Inbound messages are
//     delivered on the MQTT client's goroutines while the episode loop
//     reads on its own, so every access goes through the mutex.
type Snapshot struct {
	mu     sync.Mutex
	values Values
}

// NewSnapshot creates an empty snapshot with no valid fields.
func NewSnapshot() *Snapshot {
	return &Snapshot{}
}

// View returns a consistent copy of all fields and validity flags.
func (s *Snapshot) View() Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values
}

// SetTempC stores an outside temperature in Celsius and marks it valid.
func (s *Snapshot) SetTempC(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values.TempC = v
	s.values.TempCValid = true
}

// SetHumidity stores an outside relative humidity (%) and marks it valid.
func (s *Snapshot) SetHumidity(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values.Humidity = v
	s.values.HumidityValid = true
}

// SetCondition stores the current condition text and marks it valid.
func (s *Snapshot) SetCondition(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values.Condition = v
	s.values.ConditionValid = true
}

// SetConditionCode stores the numeric condition code and marks it valid.
func (s *Snapshot) SetConditionCode(v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values.ConditionCode = v
	s.values.ConditionCodeValid = true
}

// SetDescription stores the long-form condition text and marks it valid.
func (s *Snapshot) SetDescription(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values.Description = v
	s.values.DescriptionValid = true
}

// SetIcon stores the condition icon identifier and marks it valid.
func (s *Snapshot) SetIcon(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values.Icon = v
	s.values.IconValid = true
}

// SetWindMps stores a wind speed in m/s and marks it valid.
func (s *Snapshot) SetWindMps(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values.WindMps = v
	s.values.WindMpsValid = true
}

// SetDailyHighC stores the forecast high in Celsius and marks it valid.
func (s *Snapshot) SetDailyHighC(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values.DailyHighC = v
	s.values.DailyHighCValid = true
}

// SetDailyLowC stores the forecast low in Celsius and marks it valid.
func (s *Snapshot) SetDailyLowC(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values.DailyLowC = v
	s.values.DailyLowCValid = true
}
