package mqtt

import (
	"encoding/json"
	"testing"

	"github.com/berfenger/meterlink/internal/config"
	"github.com/berfenger/meterlink/internal/core/domain"
	"github.com/berfenger/meterlink/pkg/meter_modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *MQTTClient {
	cfg := &config.Config{MQTT: config.MQTTConfig{Host: "localhost", Port: 1883, BaseTopic: "meterlink", HADiscoveryTopic: "homeassistant"}}
	return CreateMQTTClient(cfg, OptsFromConfig(cfg), nil, nil)
}

func TestMeasurementSensorDiscovery(t *testing.T) {

	assert := assert.New(t)
	client := testClient()

	bridge := domain.BridgeDevice("meterlink")
	meter := domain.MeterDevice(meter_modbus.ConnectionInfo{Identifier: "CH30"}, bridge)
	sensors := domain.MeasurementSensors(meter, meter_modbus.DefaultRegisterMap().Metadata())
	require.Len(t, sensors, 11)

	energy := sensors[7]
	msg := GenericSensorToHADiscoveryMessage(client, energy)
	assert.Equal("meterlink/sensor/energia_kwh_a/state", msg.StateTopic)
	assert.Equal("energy", msg.DeviceClass)
	assert.Equal("total_increasing", msg.StateClass)
	assert.Equal("kWh", msg.UnitOfMeasurement)
	assert.Equal("meterlink/bridge/state", msg.AvTopic)
	assert.Nil(msg.EnabledByDefault, "relevant measurement is enabled")
	assert.Equal("homeassistant/sensor/"+meter.Id+"/energia_kwh_a/config", HADiscoverySensorTopic(client, energy))

	hidden := GenericSensorToHADiscoveryMessage(client, sensors[0])
	require.NotNil(t, hidden.EnabledByDefault)
	assert.False(*hidden.EnabledByDefault)

	pf := GenericSensorToHADiscoveryMessage(client, sensors[10])
	assert.Equal("power_factor", pf.DeviceClass)
	assert.Empty(pf.UnitOfMeasurement)
}

func TestBinaryAndBridgeDiscovery(t *testing.T) {

	assert := assert.New(t)
	client := testClient()

	bridge := domain.BridgeDevice("meterlink")
	bridgeMsg := GenericSensorToHADiscoveryMessage(client, domain.BridgeSensors(bridge)[0])
	assert.Equal("meterlink/bridge/state", bridgeMsg.StateTopic)
	assert.Equal(MQTT_PAYLOAD_ONLINE, bridgeMsg.PayloadOn)
	assert.Empty(bridgeMsg.AvTopic)

	meter := domain.MeterDevice(meter_modbus.ConnectionInfo{Identifier: "CH30"}, bridge)
	connected := GenericSensorToHADiscoveryMessage(client, domain.ConnectionSensors(meter)[0])
	assert.Equal("meterlink/binary_sensor/meter_connected/state", connected.StateTopic)
	assert.Equal(MQTT_PAYLOAD_ON, connected.PayloadOn)
	assert.Equal(MQTT_PAYLOAD_OFF, connected.PayloadOff)
}

func TestButtonDiscovery(t *testing.T) {
	client := testClient()
	bridge := domain.BridgeDevice("meterlink")
	meter := domain.MeterDevice(meter_modbus.ConnectionInfo{Identifier: "CH30"}, bridge)
	button := domain.ReconnectButton(meter)

	msg := GenericButtonToHADiscoveryMessage(client, button)
	payload, err := json.Marshal(msg)
	require.NoError(t, err)

	assert.Equal(t, "meterlink/button/reconnect/press", msg.CommandTopic)
	assert.Equal(t, "homeassistant/button/"+meter.Id+"/reconnect/config", HADiscoveryButtonTopic(client, button))
	assert.Contains(t, string(payload), `"payload_press":"PRESS"`)
	assert.NotContains(t, string(payload), "state_topic")
}
