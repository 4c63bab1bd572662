package meter_modbus

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/goburrow/modbus"
)

// GoburrowTransport is the alternate RTU backend for adapters where the
// simonvetter serial layer misbehaves.
type GoburrowTransport struct {
	port       string
	handler    *modbus.RTUClientHandler
	client     modbus.Client
	instrument []ModbusInstrument

	lock sync.Mutex
	open bool
}

func NewGoburrowTransport(port string, settings Settings, instrument ...ModbusInstrument) *GoburrowTransport {
	handler := modbus.NewRTUClientHandler(port)
	handler.BaudRate = int(settings.Baudrate)
	handler.DataBits = int(settings.Bytesize)
	handler.Parity = settings.Parity
	handler.StopBits = int(settings.Stopbits)
	handler.Timeout = settings.TimeoutDuration()

	return &GoburrowTransport{
		port:       port,
		handler:    handler,
		client:     modbus.NewClient(handler),
		instrument: instrument,
	}
}

func GoburrowTransportFactory(instrument ...ModbusInstrument) TransportFactory {
	return func(port string, settings Settings) (Transport, error) {
		return NewGoburrowTransport(port, settings, instrument...), nil
	}
}

func (t *GoburrowTransport) Open() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.open {
		return nil
	}
	if err := t.handler.Connect(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnection, t.port, err)
	}
	t.open = true
	return nil
}

func (t *GoburrowTransport) ReadRegisters(fn FunctionCode, address uint16, count uint16, target uint8) ([]uint16, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.open {
		return nil, fmt.Errorf("%w: %s is not open", ErrRead, t.port)
	}

	t.handler.SlaveId = target

	defer RecordTimer(fnName(fn), t.instrument)()
	var (
		payload []byte
		err     error
	)
	switch fn {
	case ReadHoldingRegisters:
		payload, err = t.client.ReadHoldingRegisters(address, count)
	case ReadInputRegisters:
		payload, err = t.client.ReadInputRegisters(address, count)
	default:
		return nil, fmt.Errorf("%w: unsupported function code %d", ErrRead, fn)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s unit %d fn %d register %d: %w", ErrRead, t.port, target, fn, address, err)
	}
	if len(payload) != 2*int(count) {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrRead, 2*count, len(payload))
	}

	words := make([]uint16, count)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(payload[2*i:])
	}
	return words, nil
}

func (t *GoburrowTransport) Close() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.open {
		return nil
	}
	t.open = false
	return t.handler.Close()
}
