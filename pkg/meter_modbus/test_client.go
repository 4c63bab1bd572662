package meter_modbus

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TestTransport answers reads from a fixed register table for one unit
// address. Missing registers behave like an unanswered request.
type TestTransport struct {
	Address uint8
	OpenErr error
	// ReadDelay stands in for the line time of every read.
	ReadDelay time.Duration

	lock      sync.Mutex
	registers map[FunctionCode]map[uint16]uint16
	failing   map[string]bool
	opened    bool
	Opens     int
	Closes    int
	Reads     int
}

func NewTestTransport(address uint8) *TestTransport {
	return &TestTransport{
		Address:   address,
		registers: make(map[FunctionCode]map[uint16]uint16),
		failing:   make(map[string]bool),
	}
}

func (t *TestTransport) SetRegisters(fn FunctionCode, address uint16, words []uint16) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.registers[fn] == nil {
		t.registers[fn] = make(map[uint16]uint16)
	}
	for i, w := range words {
		t.registers[fn][address+uint16(i)] = w
	}
}

// SetMeasurement stores value encoded with the measurement layout.
func (t *TestTransport) SetMeasurement(spec MeasurementSpec, value float64) error {
	words, err := Encode(value, spec.Layout())
	if err != nil {
		return err
	}
	t.SetRegisters(spec.Fn, spec.Register, words)
	return nil
}

func (t *TestTransport) SetIdentifier(det DetectionSpec, identifier string) error {
	words, err := EncodeString(identifier, det.Count, ByteOrderBig)
	if err != nil {
		return err
	}
	t.SetRegisters(det.Fn, det.Register, words)
	return nil
}

// FailRegister makes reads starting at address fail.
func (t *TestTransport) FailRegister(fn FunctionCode, address uint16) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.failing[fmt.Sprintf("%d/%d", fn, address)] = true
}

func (t *TestTransport) Open() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.Opens++
	if t.OpenErr != nil {
		return t.OpenErr
	}
	t.opened = true
	return nil
}

func (t *TestTransport) ReadRegisters(fn FunctionCode, address uint16, count uint16, target uint8) ([]uint16, error) {
	time.Sleep(t.ReadDelay)
	t.lock.Lock()
	defer t.lock.Unlock()
	t.Reads++
	if !t.opened {
		return nil, fmt.Errorf("%w: test transport not open", ErrRead)
	}
	if target != t.Address {
		return nil, fmt.Errorf("%w: request timed out (unit %d)", ErrRead, target)
	}
	if t.failing[fmt.Sprintf("%d/%d", fn, address)] {
		return nil, fmt.Errorf("%w: exception 4 (server device failure)", ErrRead)
	}
	table := t.registers[fn]
	words := make([]uint16, count)
	for i := range words {
		w, ok := table[address+uint16(i)]
		if !ok {
			return nil, fmt.Errorf("%w: exception 2 (illegal data address %d)", ErrRead, address+uint16(i))
		}
		words[i] = w
	}
	return words, nil
}

func (t *TestTransport) Close() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.opened {
		t.Closes++
	}
	t.opened = false
	return nil
}

func (t *TestTransport) IsOpen() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.opened
}

// NewTestTransportFactory serves the given transports by port name. Unknown
// ports fail to open.
func NewTestTransportFactory(ports map[string]*TestTransport) TransportFactory {
	return func(port string, settings Settings) (Transport, error) {
		if t, ok := ports[port]; ok {
			return t, nil
		}
		t := NewTestTransport(0)
		t.OpenErr = fmt.Errorf("%w: open %s: no such file or directory", ErrConnection, port)
		return t, nil
	}
}

// CreateTestKronTransport builds a transport answering like a CH30 meter on
// the default register map.
func CreateTestKronTransport(address uint8, identifier string, values map[string]float64) (*TestTransport, error) {
	regmap := DefaultRegisterMap()
	t := NewTestTransport(address)
	if err := t.SetIdentifier(regmap.Channels[0].Detection, identifier); err != nil {
		return nil, err
	}
	for _, spec := range regmap.Measurements {
		if err := t.SetMeasurement(spec, values[spec.Name]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func KronTestValues() map[string]float64 {
	return map[string]float64{
		"tensao_l1":        220.5,
		"tensao_l2":        219.75,
		"tensao_l3":        221.25,
		"tensao_ll_l1":     381.5,
		"tensao_ll_l2":     380.25,
		"tensao_ll_l3":     379.75,
		"potencia_kw_inst": 7.5,
		"energia_kwh_a":    12345.5,
		"energia_kwh_b":    23456.25,
		"frequencia":       60,
		"fp_avg":           0.9375,
	}
}

// CreateTestKronSession wires a session on the default map to a single test
// transport served at port.
func CreateTestKronSession(port string, meter *TestTransport, logger *zap.Logger) (*ReaderSession, error) {
	regmap, err := Prepare(DefaultRegisterMap())
	if err != nil {
		return nil, err
	}
	factory := NewTestTransportFactory(map[string]*TestTransport{port: meter})
	lister := func() ([]string, error) { return []string{port}, nil }
	return NewReaderSession(regmap, factory, logger, WithPortLister(lister)), nil
}
