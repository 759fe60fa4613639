// Package units provides shared constants and conversion for length units.
package units

import "strings"

// Length is a length unit name as it appears in configuration files.
type Length string

// Length constants
const (
	Meter      Length = "m"
	Centimeter Length = "cm"
	Millimeter Length = "mm"
	Inch       Length = "in"
	Foot       Length = "ft"
)

// ValidLengths contains all valid length units
var ValidLengths = []Length{Meter, Centimeter, Millimeter, Inch, Foot}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit Length) bool {
	for _, validUnit := range ValidLengths {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// ValidLengthsString returns a comma-separated string of valid units for error messages
func ValidLengthsString() string {
	names := make([]string, len(ValidLengths))
	for i, u := range ValidLengths {
		names[i] = string(u)
	}
	return strings.Join(names, ", ")
}

// MetersPer returns how many metres one unit spans. Unknown units return 0.
func MetersPer(unit Length) float64 {
	switch unit {
	case Meter:
		return 1
	case Centimeter:
		return 0.01
	case Millimeter:
		return 0.001
	case Inch:
		return 0.0254
	case Foot:
		return 0.3048
	default:
		return 0
	}
}

// Scale returns the factor that converts a length in from into a length in to.
// Unknown units scale by 1.
func Scale(from, to Length) float64 {
	f, t := MetersPer(from), MetersPer(to)
	if f == 0 || t == 0 || from == to {
		return 1
	}
	return f / t
}

// ConvertLength converts v from one unit to another.
func ConvertLength(v float64, from, to Length) float64 {
	return v * Scale(from, to)
}
