package meter_modbus

import (
	"time"
)

type FunctionCode uint8

const (
	ReadHoldingRegisters FunctionCode = 3
	ReadInputRegisters   FunctionCode = 4
)

//go:generate mockgen -destination=mocks/mock_transport.go -package=mocks . Transport

// Transport is one serial line with fixed settings. Implementations allow a
// single in-flight request and never retry.
type Transport interface {
	Open() error
	ReadRegisters(fn FunctionCode, address uint16, count uint16, target uint8) ([]uint16, error)
	Close() error
}

// TransportFactory builds an unopened transport for a port.
type TransportFactory func(port string, settings Settings) (Transport, error)

type ModbusInstrument struct {
	RecordTime func(fnName string, readTime time.Duration)
}

func RecordTimer(name string, instrument []ModbusInstrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration)
		}
	}
}

func fnName(fn FunctionCode) string {
	switch fn {
	case ReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case ReadInputRegisters:
		return "ReadInputRegisters"
	}
	return "ReadRegisters"
}
