package actor

import (
	"testing"
	"time"

	"github.com/berfenger/meterlink/internal/core/domain"
	"github.com/berfenger/meterlink/internal/util/actorutil"
	"github.com/berfenger/meterlink/pkg/meter_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func spawnMeterActor(t *testing.T, meter *meter_modbus.TestTransport) (*actor.ActorSystem, *actor.PID, *meter_modbus.ReaderSession) {
	return spawnMeterActorWithTimeouts(t, meter, 5*time.Second, 5*time.Second)
}

func spawnMeterActorWithTimeouts(t *testing.T, meter *meter_modbus.TestTransport, connectTimeout, readTimeout time.Duration) (*actor.ActorSystem, *actor.PID, *meter_modbus.ReaderSession) {
	logger := zap.Must(zap.NewDevelopment())
	session, err := meter_modbus.CreateTestKronSession("/dev/ttyUSB0", meter, logger)
	require.NoError(t, err)

	as := actorutil.NewActorSystemWithZapLogger(logger)
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMeterActor(session, connectTimeout, readTimeout, logger)
	})
	pid := as.Root.Spawn(props)
	return as, pid, session
}

func TestMeterActorGetSnapshot(t *testing.T) {

	assert := assert.New(t)

	meter, err := meter_modbus.CreateTestKronTransport(1, "CH30", meter_modbus.KronTestValues())
	require.NoError(t, err)
	as, pid, _ := spawnMeterActor(t, meter)
	defer as.Shutdown()

	result, err := as.Root.RequestFuture(pid, domain.GetSnapshotRequest{}, 10*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.GetSnapshotResponse)

	assert.False(resp.HasResponseError())
	assert.Equal(meter_modbus.StatusConnected, resp.Connection.Status)
	assert.Equal("CH30", resp.Connection.Identifier)
	assert.Equal(11, resp.Snapshot.PresentCount())
	v, ok := resp.Snapshot.Float("frequencia")
	assert.True(ok)
	assert.Equal(60.0, v)

	as.Root.Stop(pid)
}

func TestMeterActorNoDevice(t *testing.T) {

	assert := assert.New(t)

	// identifier does not match the expected prefix
	meter, err := meter_modbus.CreateTestKronTransport(1, "XX00", meter_modbus.KronTestValues())
	require.NoError(t, err)
	as, pid, _ := spawnMeterActor(t, meter)
	defer as.Shutdown()

	result, err := as.Root.RequestFuture(pid, domain.GetSnapshotRequest{}, 10*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.GetSnapshotResponse)

	assert.Equal(meter_modbus.StatusDisconnected, resp.Connection.Status)
	assert.Equal(11, resp.Snapshot.Len())
	assert.Equal(0, resp.Snapshot.PresentCount())
	r, _ := resp.Snapshot.Get("tensao_l1")
	assert.ErrorIs(r.Err, meter_modbus.ErrNotConnected)

	health, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	require.NoError(t, err)
	assert.Equal("disconnected", health.(domain.ActorHealthResponse).State)
	assert.True(health.(domain.ActorHealthResponse).Healthy)
}

func TestMeterActorScanAndInfo(t *testing.T) {

	assert := assert.New(t)

	meter, err := meter_modbus.CreateTestKronTransport(1, "CH30", meter_modbus.KronTestValues())
	require.NoError(t, err)
	meter.FailRegister(meter_modbus.ReadInputRegisters, 20)
	as, pid, _ := spawnMeterActor(t, meter)
	defer as.Shutdown()

	result, err := as.Root.RequestFuture(pid, domain.ScanRegistersRequest{}, 10*time.Second).Result()
	require.NoError(t, err)
	rows := result.(domain.ScanRegistersResponse).Rows
	require.Len(t, rows, 11)
	assert.Equal("potencia_kw_inst", rows[6].Name)
	assert.Error(rows[6].Reading.Err)
	assert.True(rows[0].Reading.Present())

	result, err = as.Root.RequestFuture(pid, domain.GetLastScanRequest{}, time.Second).Result()
	require.NoError(t, err)
	assert.Len(result.(domain.GetLastScanResponse).Rows, 11)

	result, err = as.Root.RequestFuture(pid, domain.GetMeterInfoRequest{}, time.Second).Result()
	require.NoError(t, err)
	info := result.(domain.GetMeterInfoResponse)
	assert.Len(info.Metadata, 11)
	assert.Contains(info.Relevant, "potencia_kw_inst")
	assert.Equal("/dev/ttyUSB0", info.Connection.Port)
}

func TestMeterActorReconnect(t *testing.T) {

	assert := assert.New(t)

	meter, err := meter_modbus.CreateTestKronTransport(1, "CH30", meter_modbus.KronTestValues())
	require.NoError(t, err)
	as, pid, session := spawnMeterActor(t, meter)
	defer as.Shutdown()

	result, err := as.Root.RequestFuture(pid, domain.ReconnectRequest{}, 10*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.ReconnectResponse)
	assert.False(resp.HasResponseError())
	assert.Equal(meter_modbus.StatusConnected, resp.Connection.Status)
	assert.True(session.Connected())
	assert.True(meter.IsOpen())

	as.Root.StopFuture(pid).Wait()
	assert.False(session.Connected())
	assert.False(meter.IsOpen(), "stopping the actor releases the line")
}

func TestMeterActorReconnectSlowLine(t *testing.T) {

	assert := assert.New(t)

	meter, err := meter_modbus.CreateTestKronTransport(1, "CH30", meter_modbus.KronTestValues())
	require.NoError(t, err)
	// discovery fits the connect timeout, the validation read and scan after it do not
	meter.ReadDelay = 250 * time.Millisecond
	as, pid, session := spawnMeterActorWithTimeouts(t, meter, 500*time.Millisecond, 4*time.Second)
	defer as.Shutdown()

	result, err := as.Root.RequestFuture(pid, domain.ReconnectRequest{}, 20*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.ReconnectResponse)
	assert.False(resp.HasResponseError())
	assert.Equal(meter_modbus.StatusConnected, resp.Connection.Status)
	assert.True(session.Connected())
	assert.Len(session.LastScan(), 11)
}

func TestMeterActorReplyTo(t *testing.T) {

	meter, err := meter_modbus.CreateTestKronTransport(1, "CH30", meter_modbus.KronTestValues())
	require.NoError(t, err)
	as, pid, _ := spawnMeterActor(t, meter)
	defer as.Shutdown()

	received := make(chan any, 1)
	probe := as.Root.Spawn(actor.PropsFromFunc(func(ctx actor.Context) {
		if resp, ok := ctx.Message().(domain.GetSnapshotResponse); ok {
			received <- resp
		}
	}))

	as.Root.Send(pid, domain.GetSnapshotRequest{
		MeterRequestMixIn: domain.MeterRequestMixIn{ActorRequestMixIn: domain.ReplyToPID(probe)},
	})

	select {
	case resp := <-received:
		assert.Equal(t, 11, resp.(domain.GetSnapshotResponse).Snapshot.PresentCount())
	case <-time.After(10 * time.Second):
		require.Fail(t, "no reply at ReplyTo target")
	}
}
