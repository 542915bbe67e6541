package telemetry

import "strings"

// Schema is the set of blocks included in a snapshot message.
type Schema uint8

const (
	BlockModemStatic Schema = 1 << iota
	BlockModemDynamic
	BlockSensors
	BlockBattery
	BlockGPS
	BlockAccel
	BlockUserInput
)

// Full is the schema of the first publish after boot.
const Full = BlockModemStatic | BlockModemDynamic | BlockSensors | BlockBattery

// Has reports whether every block in b is part of s.
func (s Schema) Has(b Schema) bool {
	return s&b == b
}

func (s Schema) String() string {
	names := []struct {
		b    Schema
		name string
	}{
		{BlockModemStatic, "MSTAT"},
		{BlockModemDynamic, "MDYN"},
		{BlockSensors, "SENS"},
		{BlockBattery, "BAT"},
		{BlockGPS, "GPS"},
		{BlockAccel, "ACCEL"},
		{BlockUserInput, "UI"},
	}
	var parts []string
	for _, n := range names {
		if s.Has(n.b) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "EMPTY"
	}
	return strings.Join(parts, "_")
}

// Snapshot is a composed message carrying the latest sample of each
// included class. Blocks not in the schema are nil and omitted on the wire.
type Snapshot struct {
	ModemStatic  *Stamped[ModemStatic]  `json:"mstat,omitempty"`
	ModemDynamic *Stamped[ModemDynamic] `json:"mdyn,omitempty"`
	Sensors      *Stamped[Environment]  `json:"sens,omitempty"`
	Battery      *Stamped[Battery]      `json:"bat,omitempty"`
	GPS          *Stamped[Location]     `json:"gps,omitempty"`
	Accel        *Stamped[Motion]       `json:"acc,omitempty"`
	UserInput    *Stamped[UserInput]    `json:"btn,omitempty"`
}
