package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/berfenger/meterlink/pkg/meter_modbus"
	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE       = "bridge"
	SENSOR_ID_METER_CONNECTED    = "meter_connected"
	SENSOR_ID_METER_STATUS       = "meter_status"
	SENSOR_ID_METER_PORT         = "meter_port"
	SENSOR_ID_METER_IDENTIFIER   = "meter_identifier"
	SENSOR_ID_PRESENT_READINGS   = "present_readings"
	BUTTON_ID_RECONNECT          = "reconnect"
	STATE_CLASS_MEASUREMENT      = "measurement"
	STATE_CLASS_TOTAL_INCREASING = "total_increasing"
	DEVICE_CLASS_CURRENT         = "current"
	DEVICE_CLASS_ENERGY          = "energy"
	DEVICE_CLASS_FREQUENCY       = "frequency"
	DEVICE_CLASS_POWER           = "power"
	DEVICE_CLASS_POWER_FACTOR    = "power_factor"
	DEVICE_CLASS_VOLTAGE         = "voltage"
	DEVICE_CLASS_CONNECTIVITY    = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC      = "diagnostic"
	SENSOR_TYPE_SENSOR           = "sensor"
	SENSOR_TYPE_BINARY           = "binary_sensor"
)

type unitClass struct {
	deviceClass string
	stateClass  string
	decimals    uint
}

var unitClasses = map[string]unitClass{
	"v":   {DEVICE_CLASS_VOLTAGE, STATE_CLASS_MEASUREMENT, 1},
	"a":   {DEVICE_CLASS_CURRENT, STATE_CLASS_MEASUREMENT, 2},
	"w":   {DEVICE_CLASS_POWER, STATE_CLASS_MEASUREMENT, 0},
	"kw":  {DEVICE_CLASS_POWER, STATE_CLASS_MEASUREMENT, 3},
	"kwh": {DEVICE_CLASS_ENERGY, STATE_CLASS_TOTAL_INCREASING, 3},
	"wh":  {DEVICE_CLASS_ENERGY, STATE_CLASS_TOTAL_INCREASING, 0},
	"hz":  {DEVICE_CLASS_FREQUENCY, STATE_CLASS_MEASUREMENT, 2},
	"pu":  {DEVICE_CLASS_POWER_FACTOR, STATE_CLASS_MEASUREMENT, 3},
}

// MeasurementDecimals is the rounding applied to published values of a unit.
func MeasurementDecimals(unit string) uint {
	if c, ok := unitClasses[strings.ToLower(unit)]; ok {
		return c.decimals
	}
	return 3
}

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("meterlink_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "berfenger",
		Model:        "Meterlink",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("Meterlink %s", md5HashShort(baseTopic)),
	}
}

// MeterDevice describes the detected meter. The identifier names it; the
// bridge is its parent device.
func MeterDevice(info meter_modbus.ConnectionInfo, bridge Device) Device {
	identifier := info.Identifier
	if identifier == "" {
		identifier = "unknown"
	}
	return Device{
		Id:           fmt.Sprintf("meter_%s", md5HashShort(bridge.Id+identifier)),
		Manufacturer: "Modbus",
		Model:        identifier,
		Name:         fmt.Sprintf("Meter %s", identifier),
		ViaDevice:    bridge.Id,
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

// MeasurementSensors maps every measurement to a sensor. Measurements not
// flagged relevant are created disabled.
func MeasurementSensors(meterDevice Device, metadata []meter_modbus.MeasurementMetadata) []GenericSensor {
	sensors := make([]GenericSensor, 0, len(metadata))
	for _, m := range metadata {
		name := m.Description
		if name == "" {
			name = m.Name
		}
		s := GenericSensor{
			Device:            meterDevice,
			Id:                m.Name,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              name,
			UnitOfMeasurement: m.Unit,
			UniqueId:          uniqueId(meterDevice.Id, m.Name),
		}
		if c, ok := unitClasses[strings.ToLower(m.Unit)]; ok {
			s.DeviceClass = c.deviceClass
			s.StateClass = c.stateClass
			if c.deviceClass == DEVICE_CLASS_POWER_FACTOR {
				// HA expects power factor without a unit or in %
				s.UnitOfMeasurement = ""
			}
		}
		if !m.Relevant {
			s.EnabledByDefault = optionalBool(false)
		}
		sensors = append(sensors, s)
	}
	return sensors
}

func ConnectionSensors(meterDevice Device) []GenericSensor {

	var sensors []GenericSensor

	sensors = append(sensors, GenericSensor{
		Device:         meterDevice,
		Id:             SENSOR_ID_METER_CONNECTED,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Meter connected",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(meterDevice.Id, SENSOR_ID_METER_CONNECTED),
	})

	sensors = append(sensors, GenericSensor{
		Device:         meterDevice,
		Id:             SENSOR_ID_METER_STATUS,
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           "Connection status",
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(meterDevice.Id, SENSOR_ID_METER_STATUS),
		Icon:           "mdi:lan-connect",
	})

	sensors = append(sensors, GenericSensor{
		Device:         meterDevice,
		Id:             SENSOR_ID_METER_PORT,
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           "Serial port",
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(meterDevice.Id, SENSOR_ID_METER_PORT),
		Icon:           "mdi:serial-port",
	})

	sensors = append(sensors, GenericSensor{
		Device:         meterDevice,
		Id:             SENSOR_ID_METER_IDENTIFIER,
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           "Identifier",
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(meterDevice.Id, SENSOR_ID_METER_IDENTIFIER),
		Icon:           "mdi:identifier",
	})

	sensors = append(sensors, GenericSensor{
		Device:         meterDevice,
		Id:             SENSOR_ID_PRESENT_READINGS,
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           "Present readings",
		StateClass:     STATE_CLASS_MEASUREMENT,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(meterDevice.Id, SENSOR_ID_PRESENT_READINGS),
		Icon:           "mdi:counter",
	})

	return sensors
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {
	return []GenericSensor{{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	}}
}

func ReconnectButton(meterDevice Device) GenericButton {
	return GenericButton{
		Device:   meterDevice,
		Id:       BUTTON_ID_RECONNECT,
		Name:     "Reconnect",
		UniqueId: uniqueId(meterDevice.Id, BUTTON_ID_RECONNECT),
		Icon:     "mdi:restart",
	}
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5HashShort(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])[0:8]
}

func optionalBool(value bool) *bool {
	return &value
}
