package session

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/nerrad567/gray-logic-node/internal/telemetry"
)

// Clock suffixes route to the OnClock hook instead of the snapshot;
// the node has no RTC and treats hub time as opaque display text.
const (
	suffixTime  = "time"
	suffixClock = "clock"
)

// weatherApply writes one weather payload into the snapshot.
type weatherApply func(snap *telemetry.Snapshot, payload string)

// weatherTable maps topic suffixes to snapshot writers. The hub
// publishes several fields under more than one name; every alias stays
// subscribed so whichever one the hub uses lands in the same slot.
//
// Unit-bearing aliases convert before storage: temp_f arrives in
// degrees Fahrenheit, wind_mph in miles per hour. The snapshot itself
// holds only Celsius and metres per second.
var weatherTable = map[string]weatherApply{
	"temp":   applyTempC,
	"temp_f": applyTempF,

	"hum": applyHumidity,
	"rh":  applyHumidity,

	"weather":   applyCondition,
	"condition": applyCondition,

	"weather_id":     applyConditionCode,
	"condition_code": applyConditionCode,

	"weather_desc": applyDescription,
	"weather_icon": applyIcon,

	"wind":     applyWindMps,
	"wind_mps": applyWindMps,
	"wind_mph": applyWindMph,

	"hi":   applyDailyHigh,
	"high": applyDailyHigh,

	"lo":  applyDailyLow,
	"low": applyDailyLow,
}

func applyTempC(s *telemetry.Snapshot, p string) {
	s.SetTempC(telemetry.ParseFloat(p))
}

func applyTempF(s *telemetry.Snapshot, p string) {
	s.SetTempC(telemetry.FahrenheitToCelsius(telemetry.ParseFloat(p)))
}

func applyHumidity(s *telemetry.Snapshot, p string) {
	s.SetHumidity(telemetry.ParseFloat(p))
}

func applyCondition(s *telemetry.Snapshot, p string) {
	s.SetCondition(strings.TrimSpace(p))
}

func applyConditionCode(s *telemetry.Snapshot, p string) {
	s.SetConditionCode(telemetry.ParseInt(p))
}

func applyDescription(s *telemetry.Snapshot, p string) {
	s.SetDescription(strings.TrimSpace(p))
}

func applyIcon(s *telemetry.Snapshot, p string) {
	s.SetIcon(strings.TrimSpace(p))
}

func applyWindMps(s *telemetry.Snapshot, p string) {
	s.SetWindMps(telemetry.ParseFloat(p))
}

func applyWindMph(s *telemetry.Snapshot, p string) {
	s.SetWindMps(telemetry.MphToMps(telemetry.ParseFloat(p)))
}

func applyDailyHigh(s *telemetry.Snapshot, p string) {
	s.SetDailyHighC(telemetry.ParseFloat(p))
}

func applyDailyLow(s *telemetry.Snapshot, p string) {
	s.SetDailyLowC(telemetry.ParseFloat(p))
}

// weatherSuffixes returns every subscribed weather suffix in sorted
// order: the snapshot aliases plus the clock passthroughs.
func weatherSuffixes() []string {
	suffixes := make([]string, 0, len(weatherTable)+2)
	for suffix := range weatherTable {
		suffixes = append(suffixes, suffix)
	}
	suffixes = append(suffixes, suffixTime, suffixClock)
	sort.Strings(suffixes)

	return suffixes
}

// topicSuffix returns the final segment of an MQTT topic.
func topicSuffix(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}

	return topic
}

// handleWeather dispatches an inbound weather message by topic suffix.
// Unknown suffixes and malformed payloads are logged and dropped;
// dispatch never aborts the session.
func (m *Manager) handleWeather(topic string, payload []byte) error {
	suffix := topicSuffix(topic)

	if suffix == suffixTime || suffix == suffixClock {
		if m.onClock != nil {
			m.onClock(strings.TrimSpace(string(payload)))
		}

		return nil
	}

	apply, ok := weatherTable[suffix]
	if !ok {
		m.log.Debug("unhandled weather topic", "topic", topic)
		return nil
	}

	apply(m.snap, string(payload))

	return nil
}

// hubStatusDoc is the JSON form of the hub's liveness announcement.
type hubStatusDoc struct {
	Status string `json:"status"`
}

// hubOnline reports whether a hub status payload announces liveness.
// The hub has published both a bare string and a JSON document over
// its lifetime; both forms are accepted.
func hubOnline(payload []byte) bool {
	s := strings.TrimSpace(string(payload))
	if strings.EqualFold(s, "online") {
		return true
	}

	var doc hubStatusDoc
	if err := json.Unmarshal(payload, &doc); err != nil {
		return false
	}

	return strings.EqualFold(doc.Status, "online")
}

// handleHubStatus reacts to hub liveness announcements. An online
// announcement triggers a full re-publish of discovery metadata and
// current state, covering a hub restart that lost its retained view.
// The re-publish is idempotent; a hub that never went away simply sees
// the same values again.
func (m *Manager) handleHubStatus(_ string, payload []byte) error {
	if !hubOnline(payload) {
		return nil
	}

	m.log.Info("hub online, re-announcing")
	m.republish()

	return nil
}
