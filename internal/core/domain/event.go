package domain

import (
	"fmt"

	"github.com/berfenger/meterlink/pkg/meter_modbus"
)

type SensorUpdateEventMixIn struct {
	Id string
}

type SensorUpdateEvent interface {
	SensorUpdateEvent() string
	SensorId() string
}

func (e SensorUpdateEventMixIn) SensorUpdateEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

type FloatSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

type TextSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value string
}

type BinarySensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

// UnavailableSensorUpdateEvent marks a measurement absent in the last
// snapshot.
type UnavailableSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Reason string
}

type BridgeStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

// SnapshotEvent carries every periodic snapshot on the event stream.
type SnapshotEvent struct {
	Snapshot meter_modbus.Snapshot
}

// ConnectionEvent is published when the meter connection changes.
type ConnectionEvent struct {
	Connection meter_modbus.ConnectionInfo
}
