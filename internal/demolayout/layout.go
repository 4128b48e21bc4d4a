// Package demolayout is a trimmed register map shared by the
// cmd/modbus-tcp-server and cmd/modbus-tcp-client demos: a handful of
// fields from a SunSpec three-phase meter model, addressed as Modbus
// holding registers starting at register 40001.
//
// Grounded on original_source/examples/fronius-meter-sunspec-layout.h.
package demolayout

import "github.com/Lachei/libmodbus-static"

const offset = 40001

// New returns a fresh Layout, its HoldingRegisters storage zeroed.
func New() *modbus.Layout {
	return &modbus.Layout{
		HoldingRegisters: &modbus.SubAggregate{
			Space:  modbus.SpaceHoldingRegisters,
			Offset: offset,
			Data:   make([]byte, 16),
		},
	}
}

// Field byte offsets within HoldingRegisters.Data, mirroring a subset of
// the SunSpec meter model used by the original examples.
const (
	hzOffset     = 0 // hz: line frequency, float32
	wOffset      = 4 // w: total active power, float32
	eventsOffset = 8 // events: uint32 bitmask
)

// Hz returns the typed accessor for the meter's line frequency field.
func Hz(l *modbus.Layout) modbus.Field[float32] {
	return modbus.NewTypedField[float32](l.HoldingRegisters, hzOffset)
}

// Watts returns the typed accessor for the meter's total active power field.
func Watts(l *modbus.Layout) modbus.Field[float32] {
	return modbus.NewTypedField[float32](l.HoldingRegisters, wOffset)
}

// Events returns the typed accessor for the meter's event bitmask field.
func Events(l *modbus.Layout) modbus.Field[uint32] {
	return modbus.NewTypedField[uint32](l.HoldingRegisters, eventsOffset)
}

// Range covers Hz, Watts and Events in a single read request.
func Range(l *modbus.Layout) modbus.FieldRef {
	return modbus.NewField(l.HoldingRegisters, hzOffset, eventsOffset+4-hzOffset)
}
