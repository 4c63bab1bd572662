package events

import (
	. "github.com/berfenger/meterlink/internal/core/domain"
	"github.com/berfenger/meterlink/pkg/meter_modbus"
)

// SnapshotToUpdateEvents emits one sensor event per reading. Absent
// readings become unavailable events carrying the failure reason.
func SnapshotToUpdateEvents(snap meter_modbus.Snapshot, units map[string]string) []any {
	events := make([]any, 0, len(snap.Readings)+1)

	for _, r := range snap.Readings {
		mixin := SensorUpdateEventMixIn{Id: r.Name}
		if !r.Present() {
			events = append(events, UnavailableSensorUpdateEvent{
				SensorUpdateEventMixIn: mixin,
				Reason:                 r.Err.Error(),
			})
			continue
		}
		if f, ok := r.Value.Float(); ok {
			events = append(events, FloatSensorUpdateEvent{
				SensorUpdateEventMixIn: mixin,
				Value:                  f,
				Decimals:               MeasurementDecimals(units[r.Name]),
			})
		} else {
			events = append(events, TextSensorUpdateEvent{
				SensorUpdateEventMixIn: mixin,
				Value:                  r.Value.String(),
			})
		}
	}

	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: SENSOR_ID_PRESENT_READINGS},
		Value:                  float64(snap.PresentCount()),
		Decimals:               0,
	})

	return events
}

func ConnectionInfoToUpdateEvents(info meter_modbus.ConnectionInfo) []any {
	var events []any

	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: SENSOR_ID_METER_CONNECTED},
		Value:                  info.Status != meter_modbus.StatusDisconnected,
	})
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: SENSOR_ID_METER_STATUS},
		Value:                  string(info.Status),
	})
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: SENSOR_ID_METER_PORT},
		Value:                  info.Port,
	})
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: SENSOR_ID_METER_IDENTIFIER},
		Value:                  info.Identifier,
	})

	return events
}

// UnitsByName indexes measurement units for decimal selection.
func UnitsByName(metadata []meter_modbus.MeasurementMetadata) map[string]string {
	units := make(map[string]string, len(metadata))
	for _, m := range metadata {
		units[m.Name] = m.Unit
	}
	return units
}
