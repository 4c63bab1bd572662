package meter_modbus

import (
	"fmt"
	"sync"

	"github.com/simonvetter/modbus"
)

// RTUTransport talks Modbus RTU through simonvetter/modbus.
type RTUTransport struct {
	port       string
	client     *modbus.ModbusClient
	instrument []ModbusInstrument

	lock sync.Mutex
	open bool
}

func NewRTUTransport(port string, settings Settings, instrument ...ModbusInstrument) (*RTUTransport, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:      fmt.Sprintf("rtu://%s", port),
		Speed:    settings.Baudrate,
		DataBits: settings.Bytesize,
		Parity:   rtuParity(settings.Parity),
		StopBits: settings.Stopbits,
		Timeout:  settings.TimeoutDuration(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnection, port, err)
	}
	return &RTUTransport{
		port:       port,
		client:     client,
		instrument: instrument,
	}, nil
}

func RTUTransportFactory(instrument ...ModbusInstrument) TransportFactory {
	return func(port string, settings Settings) (Transport, error) {
		return NewRTUTransport(port, settings, instrument...)
	}
}

func (t *RTUTransport) Open() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.open {
		return nil
	}
	if err := t.client.Open(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnection, t.port, err)
	}
	t.open = true
	return nil
}

func (t *RTUTransport) ReadRegisters(fn FunctionCode, address uint16, count uint16, target uint8) ([]uint16, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.open {
		return nil, fmt.Errorf("%w: %s is not open", ErrRead, t.port)
	}

	var regType modbus.RegType
	switch fn {
	case ReadHoldingRegisters:
		regType = modbus.HOLDING_REGISTER
	case ReadInputRegisters:
		regType = modbus.INPUT_REGISTER
	default:
		return nil, fmt.Errorf("%w: unsupported function code %d", ErrRead, fn)
	}

	if err := t.client.SetUnitId(target); err != nil {
		return nil, fmt.Errorf("%w: unit %d: %w", ErrRead, target, err)
	}

	defer RecordTimer(fnName(fn), t.instrument)()
	words, err := t.client.ReadRegisters(address, count, regType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s unit %d fn %d register %d: %w", ErrRead, t.port, target, fn, address, err)
	}
	if len(words) != int(count) {
		return nil, fmt.Errorf("%w: expected %d registers, got %d", ErrRead, count, len(words))
	}
	return words, nil
}

func (t *RTUTransport) Close() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.open {
		return nil
	}
	t.open = false
	return t.client.Close()
}

func rtuParity(parity string) uint {
	switch parity {
	case "E":
		return modbus.PARITY_EVEN
	case "O":
		return modbus.PARITY_ODD
	default:
		return modbus.PARITY_NONE
	}
}
