package meter_modbus

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

const SimulatedPort = "simulated"

// SimulatedMeter produces plausible three phase readings and serves them as
// registers laid out per the register map, so the full decode path runs.
type SimulatedMeter struct {
	regmap     RegisterMap
	identifier string
	now        func() time.Time
	rand       *rand.Rand

	lock      sync.Mutex
	start     time.Time
	last      time.Time
	voltageLN float64
	voltageLL float64
	current   float64
	pf        float64
	freq      float64
	powerKW   float64
	energyA   float64
	energyB   float64
}

func NewSimulatedMeter(regmap RegisterMap, identifier string, seed uint64) *SimulatedMeter {
	return newSimulatedMeter(regmap, identifier, seed, time.Now)
}

func newSimulatedMeter(regmap RegisterMap, identifier string, seed uint64, now func() time.Time) *SimulatedMeter {
	start := now()
	m := &SimulatedMeter{
		regmap:     regmap,
		identifier: identifier,
		now:        now,
		rand:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		start:      start,
		last:       start,
		energyA:    12345,
		energyB:    23456,
	}
	m.step(start)
	return m
}

func (m *SimulatedMeter) Identifier() string {
	return m.identifier
}

// Address is the unit address the meter answers on.
func (m *SimulatedMeter) Address() uint8 {
	if len(m.regmap.Channels) > 0 {
		return m.regmap.Channels[0].Address
	}
	if len(m.regmap.Settings.ScanAddresses) > 0 {
		return m.regmap.Settings.ScanAddresses[0]
	}
	return 1
}

func (m *SimulatedMeter) Factory() TransportFactory {
	return func(port string, settings Settings) (Transport, error) {
		return &simulatedTransport{meter: m}, nil
	}
}

func (m *SimulatedMeter) noise(amplitude float64) float64 {
	return (m.rand.Float64()*2 - 1) * amplitude
}

func (m *SimulatedMeter) step(now time.Time) {
	t := now.Sub(m.start).Seconds()
	dt := now.Sub(m.last).Seconds()
	m.last = now

	m.voltageLL = 380 + 4*math.Sin(t/45) + m.noise(0.8)
	m.voltageLN = 220 + 2.5*math.Sin(t/45+0.3) + m.noise(0.5)
	m.current = math.Max(0, 12+5*math.Sin(t/60)+m.noise(0.4))
	m.pf = math.Min(1.0, math.Max(0.7, 0.95+0.015*math.Sin(t/90)+m.noise(0.005)))
	m.freq = 60 + 0.04*math.Sin(t/20) + m.noise(0.01)

	instKW := math.Sqrt(3) * m.voltageLL * m.current * m.pf / 1000
	if m.powerKW == 0 {
		m.powerKW = instKW
	} else {
		m.powerKW = 0.8*m.powerKW + 0.2*instKW
	}
	if dt > 0 {
		m.energyA += m.powerKW * dt / 3600
		m.energyB += m.powerKW * dt / 3600 * 0.5
	}
}

// value picks a synthetic quantity by unit, using the measurement name to
// tell line-line voltages and the secondary energy channel apart.
func (m *SimulatedMeter) value(spec MeasurementSpec) float64 {
	name := strings.ToLower(spec.Name)
	switch strings.ToLower(spec.Unit) {
	case "v":
		if strings.Contains(name, "ll") {
			return m.voltageLL + m.noise(0.3)
		}
		return m.voltageLN + m.noise(0.3)
	case "a":
		return m.current
	case "kw":
		return m.powerKW
	case "w":
		return m.powerKW * 1000
	case "kwh":
		if strings.HasSuffix(name, "_b") {
			return m.energyB
		}
		return m.energyA
	case "hz":
		return m.freq
	case "pu", "":
		return m.pf
	}
	return 0
}

func (m *SimulatedMeter) registers(fn FunctionCode, address uint16, count uint16) ([]uint16, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.step(m.now())

	for _, spec := range m.regmap.Measurements {
		if spec.Fn != fn || spec.Register != address || spec.Count != count {
			continue
		}
		if spec.Type == TypeString {
			return EncodeString(truncate(m.identifier, count), count, spec.ByteOrder)
		}
		return Encode(m.value(spec), spec.Layout())
	}
	for _, ch := range m.regmap.Channels {
		det := ch.Detection
		if det.Fn != fn || det.Register != address || det.Count != count {
			continue
		}
		if det.Type == TypeString {
			return EncodeString(truncate(m.identifier, count), count, ByteOrderBig)
		}
		return Encode(1, det.Layout())
	}
	return nil, fmt.Errorf("%w: simulated meter: illegal data address fn %d register %d count %d", ErrRead, fn, address, count)
}

// truncate keeps what a device with count registers of text would report.
func truncate(s string, count uint16) string {
	if n := 2 * int(count); len(s) > n {
		return s[:n]
	}
	return s
}

type simulatedTransport struct {
	meter *SimulatedMeter
}

func (t *simulatedTransport) Open() error {
	return nil
}

func (t *simulatedTransport) ReadRegisters(fn FunctionCode, address uint16, count uint16, target uint8) ([]uint16, error) {
	if target != t.meter.Address() {
		return nil, fmt.Errorf("%w: simulated meter: no response from unit %d", ErrRead, target)
	}
	return t.meter.registers(fn, address, count)
}

func (t *simulatedTransport) Close() error {
	return nil
}
