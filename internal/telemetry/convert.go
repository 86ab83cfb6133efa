package telemetry

import (
	"strconv"
	"strings"
)

// Unit conversion factors.
const (
	mpsPerMph = 0.44704
)

// ParseFloat converts a payload string to a float64, permissively.
//
// Unparseable input yields 0 rather than an error; the caller still marks
// the field valid. Hubs occasionally publish placeholder strings ("--",
// "n/a") on their numeric topics, and a retained zero that clears on the
// next good publish beats a field that flaps between valid and invalid.
func ParseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// ParseInt converts a payload string to an int with the same permissive
// contract as ParseFloat.
func ParseInt(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		// Some hubs publish codes as floats ("801.0").
		f, ferr := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if ferr != nil {
			return 0
		}
		return int(f)
	}
	return v
}

// FahrenheitToCelsius converts °F to °C.
func FahrenheitToCelsius(f float64) float64 {
	return (f - 32) * 5 / 9
}

// CelsiusToFahrenheit converts °C to °F.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

// MphToMps converts miles per hour to metres per second.
func MphToMps(v float64) float64 {
	return v * mpsPerMph
}
