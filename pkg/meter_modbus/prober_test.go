package meter_modbus_test

import (
	"context"
	"errors"
	"testing"

	"github.com/berfenger/meterlink/pkg/meter_modbus"
	"github.com/berfenger/meterlink/pkg/meter_modbus/mocks"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func ch30Channels(addresses ...uint8) []meter_modbus.ChannelSpec {
	det := meter_modbus.DetectionSpec{
		Fn:             meter_modbus.ReadHoldingRegisters,
		Register:       0,
		Count:          4,
		Type:           meter_modbus.TypeString,
		ExpectedPrefix: "CH30",
	}
	channels := make([]meter_modbus.ChannelSpec, 0, len(addresses))
	for _, addr := range addresses {
		channels = append(channels, meter_modbus.ChannelSpec{Name: "CH30", Address: addr, Detection: det})
	}
	return channels
}

func TestDiscoverFindsMeter(t *testing.T) {
	assert := assert.New(t)

	com5 := meter_modbus.NewTestTransport(2)
	require.NoError(t, com5.SetIdentifier(ch30Channels(2)[0].Detection, "CH30-X"))
	factory := meter_modbus.NewTestTransportFactory(map[string]*meter_modbus.TestTransport{"COM5": com5})

	settings := meter_modbus.DefaultRegisterMap().Settings
	prober := meter_modbus.NewDeviceProber(settings, factory, zap.Must(zap.NewDevelopment()))

	result, err := prober.Discover(context.Background(), []string{"COM3", "COM5"}, ch30Channels(1, 2))
	require.NoError(t, err)
	assert.Equal("COM5", result.Port)
	assert.Equal(uint8(2), result.Address)
	assert.Equal("CH30-X", result.Identifier)

	// every probe closes its own line
	assert.False(com5.IsOpen())
	assert.Equal(2, com5.Opens)
	assert.Equal(com5.Opens, com5.Closes)
}

func TestDiscoverNoPorts(t *testing.T) {
	prober := meter_modbus.NewDeviceProber(meter_modbus.Settings{}, nil, zap.NewNop())
	_, err := prober.Discover(context.Background(), nil, ch30Channels(1))
	assert.ErrorIs(t, err, meter_modbus.ErrDiscovery)
}

func TestDiscoverNothingAnswers(t *testing.T) {
	factory := meter_modbus.NewTestTransportFactory(map[string]*meter_modbus.TestTransport{
		"/dev/ttyUSB0": meter_modbus.NewTestTransport(9),
	})
	prober := meter_modbus.NewDeviceProber(meter_modbus.Settings{}, factory, zap.NewNop())

	_, err := prober.Discover(context.Background(), []string{"/dev/ttyUSB0", "/dev/ttyUSB1"}, ch30Channels(1, 2, 3, 4))
	assert.ErrorIs(t, err, meter_modbus.ErrDiscovery)
}

func TestDiscoverCancelled(t *testing.T) {
	ctrl := gomock.NewController(t)
	factory := func(port string, settings meter_modbus.Settings) (meter_modbus.Transport, error) {
		return mocks.NewMockTransport(ctrl), nil
	}
	prober := meter_modbus.NewDeviceProber(meter_modbus.Settings{}, factory, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := prober.Discover(ctx, []string{"COM1"}, ch30Channels(1))
	assert.ErrorIs(t, err, meter_modbus.ErrDiscovery)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDiscoverPrefixMismatch(t *testing.T) {
	assert := assert.New(t)
	ctrl := gomock.NewController(t)

	words, err := meter_modbus.EncodeString("PM210", 4, meter_modbus.ByteOrderBig)
	require.NoError(t, err)

	transport := mocks.NewMockTransport(ctrl)
	gomock.InOrder(
		transport.EXPECT().Open().Return(nil),
		transport.EXPECT().ReadRegisters(meter_modbus.ReadHoldingRegisters, uint16(0), uint16(4), uint8(1)).Return(words, nil),
		transport.EXPECT().Close().Return(nil),
	)
	factory := func(port string, settings meter_modbus.Settings) (meter_modbus.Transport, error) {
		return transport, nil
	}
	prober := meter_modbus.NewDeviceProber(meter_modbus.Settings{}, factory, zap.NewNop())

	_, err = prober.Discover(context.Background(), []string{"COM1"}, ch30Channels(1))
	assert.ErrorIs(err, meter_modbus.ErrDiscovery)
}

func TestDiscoverPrefixIsCaseInsensitive(t *testing.T) {
	ctrl := gomock.NewController(t)

	words, err := meter_modbus.EncodeString("ch30", 4, meter_modbus.ByteOrderBig)
	require.NoError(t, err)

	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().Open().Return(nil)
	transport.EXPECT().ReadRegisters(gomock.Any(), gomock.Any(), gomock.Any(), uint8(1)).Return(words, nil)
	transport.EXPECT().Close().Return(nil)

	factory := func(port string, settings meter_modbus.Settings) (meter_modbus.Transport, error) {
		return transport, nil
	}
	prober := meter_modbus.NewDeviceProber(meter_modbus.Settings{}, factory, zap.NewNop())

	result, err := prober.Discover(context.Background(), []string{"COM1"}, ch30Channels(1))
	require.NoError(t, err)
	assert.Equal(t, "ch30", result.Identifier)
}

func TestDiscoverSynthesizesChannels(t *testing.T) {
	assert := assert.New(t)
	ctrl := gomock.NewController(t)

	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().Open().Return(nil).Times(2)
	transport.EXPECT().Close().Return(nil).Times(2)
	transport.EXPECT().
		ReadRegisters(meter_modbus.ReadHoldingRegisters, uint16(0), uint16(1), uint8(5)).
		Return(nil, errors.New("timeout"))
	transport.EXPECT().
		ReadRegisters(meter_modbus.ReadHoldingRegisters, uint16(0), uint16(1), uint8(7)).
		Return([]uint16{42}, nil)

	factory := func(port string, settings meter_modbus.Settings) (meter_modbus.Transport, error) {
		return transport, nil
	}
	settings := meter_modbus.Settings{ScanAddresses: []uint8{5, 7}}
	prober := meter_modbus.NewDeviceProber(settings, factory, zap.NewNop())

	result, err := prober.Discover(context.Background(), []string{"/dev/ttyS0"}, nil)
	require.NoError(t, err)
	assert.Equal(uint8(7), result.Address)
	assert.Equal("meter address 7", result.ChannelName)
	assert.Equal("42", result.Identifier)
}

func TestDiscoverSkipsFactoryErrors(t *testing.T) {
	calls := 0
	factory := func(port string, settings meter_modbus.Settings) (meter_modbus.Transport, error) {
		calls++
		return nil, errors.New("bad port")
	}
	prober := meter_modbus.NewDeviceProber(meter_modbus.Settings{}, factory, zap.NewNop())

	_, err := prober.Discover(context.Background(), []string{"a", "b"}, ch30Channels(1, 2))
	assert.ErrorIs(t, err, meter_modbus.ErrDiscovery)
	assert.Equal(t, 4, calls)
}
