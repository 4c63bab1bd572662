package service

import (
	"errors"
	"testing"
	"time"

	"github.com/berfenger/meterlink/internal/core/port"
	"github.com/berfenger/meterlink/pkg/meter_modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var _ port.ReconnectPolicy = (*DefaultReconnectPolicy)(nil)

func newPolicy(maxEmpty uint) *DefaultReconnectPolicy {
	return &DefaultReconnectPolicy{
		MaxEmptyCycles: maxEmpty,
		RetryInterval:  30 * time.Second,
		Logger:         zap.NewNop(),
	}
}

func emptySnapshot() *meter_modbus.Snapshot {
	snap := meter_modbus.AbsentSnapshot([]string{"tensao_l1", "frequencia"}, errors.New("timeout"), time.Now())
	return &snap
}

func fullSnapshot() *meter_modbus.Snapshot {
	return &meter_modbus.Snapshot{
		Time: time.Now(),
		Readings: []meter_modbus.Reading{
			{Name: "tensao_l1", Value: meter_modbus.NumberValue(230)},
			{Name: "frequencia", Err: errors.New("timeout")},
		},
	}
}

func TestDisconnectedRetriesOnInterval(t *testing.T) {
	require := require.New(t)
	p := newPolicy(3)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.True(p.Evaluate(false, nil, t0).Reconnect, "first cycle without a line must retry")
	require.False(p.Evaluate(false, nil, t0.Add(10*time.Second)).Reconnect)
	require.False(p.Evaluate(false, nil, t0.Add(29*time.Second)).Reconnect)

	d := p.Evaluate(false, nil, t0.Add(30*time.Second))
	require.True(d.Reconnect)
	require.Equal("meter disconnected", d.Reason)
}

func TestEmptyCyclesTriggerReconnect(t *testing.T) {
	require := require.New(t)
	p := newPolicy(3)
	now := time.Now()

	require.False(p.Evaluate(true, emptySnapshot(), now).Reconnect)
	require.False(p.Evaluate(true, emptySnapshot(), now).Reconnect)
	d := p.Evaluate(true, emptySnapshot(), now)
	require.True(d.Reconnect)
	require.Equal("no readings for 3 cycles", d.Reason)

	// counter restarts after the reconnect
	require.False(p.Evaluate(true, emptySnapshot(), now).Reconnect)
}

func TestPartialSnapshotResetsCounter(t *testing.T) {
	p := newPolicy(2)
	now := time.Now()

	assert.False(t, p.Evaluate(true, emptySnapshot(), now).Reconnect)
	assert.False(t, p.Evaluate(true, fullSnapshot(), now).Reconnect)
	assert.False(t, p.Evaluate(true, emptySnapshot(), now).Reconnect)
	assert.True(t, p.Evaluate(true, emptySnapshot(), now).Reconnect)
}

func TestZeroMaxEmptyCyclesNeverDrops(t *testing.T) {
	p := newPolicy(0)
	for i := 0; i < 10; i++ {
		assert.False(t, p.Evaluate(true, emptySnapshot(), time.Now()).Reconnect)
	}
}

func TestMeasurementlessMapIsNotEmpty(t *testing.T) {
	p := newPolicy(1)
	snap := &meter_modbus.Snapshot{Time: time.Now()}
	assert.False(t, p.Evaluate(true, snap, time.Now()).Reconnect)
}

func TestResetDelaysRetry(t *testing.T) {
	p := newPolicy(3)
	t0 := time.Now()
	p.Reset(t0)
	assert.False(t, p.Evaluate(false, nil, t0.Add(time.Second)).Reconnect)
	assert.True(t, p.Evaluate(false, nil, t0.Add(31*time.Second)).Reconnect)
}
