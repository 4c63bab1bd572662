package port

import (
	"context"
	"time"

	"github.com/berfenger/meterlink/internal/core/domain"
	"github.com/berfenger/meterlink/pkg/meter_modbus"
)

// MeterReader is the acquisition surface of a meter session.
type MeterReader interface {
	Connect(ctx context.Context) error
	ReadAll() meter_modbus.Snapshot
	ScanRegisters() []meter_modbus.ScanRow
	LastScan() []meter_modbus.ScanRow
	RegisterMetadata() []meter_modbus.MeasurementMetadata
	RelevantFieldNames() []string
	ConnectionInfo() meter_modbus.ConnectionInfo
	Connected() bool
	Close() error
}

type ReconnectPolicy interface {
	Evaluate(connected bool, snap *meter_modbus.Snapshot, now time.Time) domain.ReconnectDecision
	Reset(now time.Time)
}

// AcquisitionObserver receives the outcome of every acquisition cycle.
type AcquisitionObserver interface {
	ObserveSnapshot(snap meter_modbus.Snapshot, units map[string]string)
	SetConnected(connected bool)
	IncReconnects()
}
