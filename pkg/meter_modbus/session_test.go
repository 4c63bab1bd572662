package meter_modbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testClock = func() time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func newTestSession(t *testing.T, ports map[string]*TestTransport, opts ...SessionOption) *ReaderSession {
	regmap, err := Prepare(DefaultRegisterMap())
	require.NoError(t, err)

	names := make([]string, 0, len(ports))
	for name := range ports {
		names = append(names, name)
	}
	opts = append([]SessionOption{
		WithPortLister(func() ([]string, error) { return names, nil }),
		WithClock(testClock),
	}, opts...)
	return NewReaderSession(regmap, NewTestTransportFactory(ports), zap.Must(zap.NewDevelopment()), opts...)
}

func TestSessionConnectAndReadAll(t *testing.T) {
	assert := assert.New(t)

	meter, err := CreateTestKronTransport(1, "CH30", KronTestValues())
	require.NoError(t, err)
	session := newTestSession(t, map[string]*TestTransport{"COM5": meter})

	require.NoError(t, session.Connect(context.Background()))
	assert.True(session.Connected())

	info := session.ConnectionInfo()
	assert.Equal(StatusConnected, info.Status)
	assert.Equal("COM5", info.Port)
	assert.Equal(uint8(1), info.Address)
	assert.Equal("CH30", info.Identifier)
	assert.Equal(testClock(), *info.ConnectedAt)

	snap := session.ReadAll()
	assert.Equal(testClock(), snap.Time)
	assert.Equal(11, snap.Len())
	assert.Equal(11, snap.PresentCount())
	for i, name := range session.RegisterMap().MeasurementNames() {
		assert.Equal(name, snap.Readings[i].Name)
		f, ok := snap.Float(name)
		assert.True(ok, name)
		assert.Equal(KronTestValues()[name], f, name)
	}

	// the persistent line stays open between reads
	assert.True(meter.IsOpen())
}

func TestSessionReadAllWhenDisconnected(t *testing.T) {
	assert := assert.New(t)

	session := newTestSession(t, nil)
	snap := session.ReadAll()

	assert.Equal(11, snap.Len())
	assert.Equal(0, snap.PresentCount())
	for _, r := range snap.Readings {
		assert.ErrorIs(r.Err, ErrNotConnected)
	}
	assert.Equal(StatusDisconnected, session.ConnectionInfo().Status)
}

func TestSessionScanRegistersWhenDisconnected(t *testing.T) {
	assert := assert.New(t)

	session := newTestSession(t, nil)
	rows := session.ScanRegisters()

	names := DefaultRegisterMap().MeasurementNames()
	require.Len(t, rows, len(names))
	for i, row := range rows {
		assert.Equal(names[i], row.Name)
		assert.False(row.Reading.Present())
		assert.ErrorIs(row.Reading.Err, ErrNotConnected)
	}
	assert.Equal(rows, session.LastScan())
}

func TestSessionConnectNoDevice(t *testing.T) {
	session := newTestSession(t, map[string]*TestTransport{"COM1": NewTestTransport(9)})

	err := session.Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnection)
	assert.ErrorIs(t, err, ErrDiscovery)
	assert.False(t, session.Connected())
}

func TestSessionValidationReadFails(t *testing.T) {
	assert := assert.New(t)

	meter, err := CreateTestKronTransport(1, "CH30", KronTestValues())
	require.NoError(t, err)
	// tensao_ll_l1 is the first relevant measurement
	meter.FailRegister(ReadInputRegisters, 6)
	session := newTestSession(t, map[string]*TestTransport{"COM5": meter})

	err = session.Connect(context.Background())
	assert.ErrorIs(err, ErrConnection)
	assert.ErrorIs(err, ErrRead)
	assert.False(session.Connected())
	assert.Equal(StatusDisconnected, session.ConnectionInfo().Status)
	assert.False(meter.IsOpen())
}

func TestSessionOverrideSkipsDiscovery(t *testing.T) {
	assert := assert.New(t)

	meter, err := CreateTestKronTransport(3, "CH30", KronTestValues())
	require.NoError(t, err)
	session := newTestSession(t, map[string]*TestTransport{"/dev/ttyUSB1": meter},
		WithPortLister(func() ([]string, error) { return nil, errors.New("must not list ports") }),
		WithOverride(Override{Port: "/dev/ttyUSB1", Address: 3}))

	require.NoError(t, session.Connect(context.Background()))
	info := session.ConnectionInfo()
	assert.Equal("/dev/ttyUSB1", info.Port)
	assert.Equal(uint8(3), info.Address)
	// only the persistent line was opened
	assert.Equal(1, meter.Opens)
}

func TestSessionOverrideAddressOnly(t *testing.T) {
	assert := assert.New(t)

	meter, err := CreateTestKronTransport(4, "CH30", KronTestValues())
	require.NoError(t, err)
	session := newTestSession(t, map[string]*TestTransport{"COM2": meter},
		WithOverride(Override{Address: 4}))

	require.NoError(t, session.Connect(context.Background()))
	info := session.ConnectionInfo()
	assert.Equal(uint8(4), info.Address)
	assert.Equal("meter address 4", info.Channel)
}

func TestSessionScanRegisters(t *testing.T) {
	assert := assert.New(t)

	meter, err := CreateTestKronTransport(1, "CH30", KronTestValues())
	require.NoError(t, err)
	meter.FailRegister(ReadInputRegisters, 20)
	session := newTestSession(t, map[string]*TestTransport{"COM5": meter})
	require.NoError(t, session.Connect(context.Background()))

	// Connect already took a scan
	assert.Len(session.LastScan(), 11)

	rows := session.ScanRegisters()
	require.Len(t, rows, 11)
	for i, meta := range session.RegisterMetadata() {
		assert.Equal(meta, rows[i].MeasurementMetadata)
		if meta.Name == "potencia_kw_inst" {
			assert.ErrorIs(rows[i].Reading.Err, ErrRead)
			continue
		}
		assert.True(rows[i].Reading.Present(), meta.Name)
	}

	b, err := json.Marshal(rows[6])
	require.NoError(t, err)
	assert.Contains(string(b), `"value":null`)
	assert.Contains(string(b), `"error":`)
}

func TestSessionReconnectClosesPreviousLine(t *testing.T) {
	assert := assert.New(t)

	meter, err := CreateTestKronTransport(1, "CH30", KronTestValues())
	require.NoError(t, err)
	session := newTestSession(t, map[string]*TestTransport{"COM5": meter},
		WithOverride(Override{Port: "COM5", Address: 1}))

	require.NoError(t, session.Connect(context.Background()))
	require.NoError(t, session.Connect(context.Background()))
	assert.Equal(2, meter.Opens)
	assert.Equal(1, meter.Closes)
	assert.True(meter.IsOpen())
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	assert := assert.New(t)

	meter, err := CreateTestKronTransport(1, "CH30", KronTestValues())
	require.NoError(t, err)
	session := newTestSession(t, map[string]*TestTransport{"COM5": meter})
	require.NoError(t, session.Connect(context.Background()))

	assert.NoError(session.Close())
	assert.NoError(session.Close())
	assert.False(session.Connected())
	assert.False(meter.IsOpen())
	assert.Equal(StatusDisconnected, session.ConnectionInfo().Status)

	snap := session.ReadAll()
	assert.Equal(0, snap.PresentCount())
}

func TestSessionSimulation(t *testing.T) {
	assert := assert.New(t)

	regmap, err := Prepare(DefaultRegisterMap())
	require.NoError(t, err)
	meter := newSimulatedMeter(regmap, "CH30-SIM", 7, testClock)
	session := NewReaderSession(regmap, nil, zap.NewNop(), WithSimulation(meter), WithClock(testClock))

	require.NoError(t, session.Connect(context.Background()))
	info := session.ConnectionInfo()
	assert.Equal(StatusSimulated, info.Status)
	assert.Equal(SimulatedPort, info.Port)
	assert.Equal("CH30-SIM", info.Identifier)

	snap := session.ReadAll()
	assert.Equal(11, snap.PresentCount())
}

func TestSnapshotJSONKeepsOrder(t *testing.T) {
	snap := Snapshot{
		Time: testClock(),
		Readings: []Reading{
			{Name: "z", Value: NumberValue(1.5)},
			{Name: "a", Err: ErrRead},
			{Name: "id", Value: TextValue("CH30")},
		},
	}
	b, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.JSONEq(t, `{"time":"2024-03-01T12:00:00Z","values":{"z":1.5,"a":null,"id":"CH30"}}`, string(b))
	assert.Contains(t, string(b), `{"z":1.5,"a":null,"id":"CH30"}`)
}

func TestAbsentSnapshot(t *testing.T) {
	snap := AbsentSnapshot([]string{"a", "b"}, ErrNotConnected, testClock())
	assert.Equal(t, 2, snap.Len())
	assert.Equal(t, 0, snap.PresentCount())
	_, ok := snap.Float("a")
	assert.False(t, ok)
}
