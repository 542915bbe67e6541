// Package telemetry defines the sample value types captured by the tracker,
// the signal classes they belong to, and the composed snapshot message.
// This package has no dependencies beyond the standard library.
package telemetry

import (
	"math"
	"time"
)

// Class identifies one category of telemetry. Each class has its own ring.
type Class int

const (
	ClassLocation Class = iota
	ClassMotion
	ClassModem
	ClassEnvironment
	ClassBattery
	ClassUserInput
)

// Classes lists every signal class in declaration order.
var Classes = [...]Class{
	ClassLocation,
	ClassMotion,
	ClassModem,
	ClassEnvironment,
	ClassBattery,
	ClassUserInput,
}

func (c Class) String() string {
	switch c {
	case ClassLocation:
		return "location"
	case ClassMotion:
		return "motion"
	case ClassModem:
		return "modem"
	case ClassEnvironment:
		return "environment"
	case ClassBattery:
		return "battery"
	case ClassUserInput:
		return "user_input"
	}
	return "unknown"
}

// Location is a position/velocity fix.
type Location struct {
	Longitude float64 `json:"lng"`
	Latitude  float64 `json:"lat"`
	Altitude  float64 `json:"alt"`
	Accuracy  float64 `json:"acc"`
	Speed     float64 `json:"spd"`
	Heading   float64 `json:"hdg"`
}

// Motion is a 3-axis accelerometer reading.
type Motion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Magnitude is the largest absolute axis value.
func (m Motion) Magnitude() float64 {
	return math.Max(math.Abs(m.X), math.Max(math.Abs(m.Y), math.Abs(m.Z)))
}

// ModemStatic holds modem attributes that rarely change.
type ModemStatic struct {
	AppVersion string `json:"appv"`
	Board      string `json:"brdv"`
	Firmware   string `json:"fw"`
	ICCID      string `json:"iccid"`
	LTEM       bool   `json:"nw_lte_m"`
	NBIoT      bool   `json:"nw_nb_iot"`
	GPS        bool   `json:"nw_gps"`
}

// ModemDynamic holds network attributes that change with the serving cell.
type ModemDynamic struct {
	IP     string `json:"ip"`
	Cell   uint32 `json:"cell"`
	MCCMNC string `json:"mccmnc"`
	Area   uint32 `json:"area"`
	Band   uint8  `json:"band"`
	RSRP   uint8  `json:"rsrp"`
}

// Modem is one modem status sample.
type Modem struct {
	Static  ModemStatic  `json:"static"`
	Dynamic ModemDynamic `json:"dynamic"`
}

// MaxRSRP is the largest raw RSRP value that represents a real signal
// strength (0 through 97).
const MaxRSRP = 97

// Environment is a temperature/humidity reading.
type Environment struct {
	Temperature float64 `json:"temp"`
	Humidity    float64 `json:"hum"`
}

// Battery is a battery voltage reading.
type Battery struct {
	Millivolts int `json:"bat"`
}

// UserInput records a button press.
type UserInput struct {
	Button int `json:"btn"`
}

// Stamped pairs a value with its capture time for message bodies.
type Stamped[T any] struct {
	Value T         `json:"v"`
	Time  time.Time `json:"ts"`
}

// Stamp returns v and t as a message block.
func Stamp[T any](v T, t time.Time) *Stamped[T] {
	return &Stamped[T]{Value: v, Time: t}
}
