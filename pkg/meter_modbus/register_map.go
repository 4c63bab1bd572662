package meter_modbus

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

const (
	maxReadCount   = 125
	maxUnitAddress = 247
)

type Settings struct {
	Baudrate      uint    `mapstructure:"baudrate" yaml:"baudrate"`
	Bytesize      uint    `mapstructure:"bytesize" yaml:"bytesize"`
	Parity        string  `mapstructure:"parity" yaml:"parity"`
	Stopbits      uint    `mapstructure:"stopbits" yaml:"stopbits"`
	Timeout       float64 `mapstructure:"timeout" yaml:"timeout"` // seconds
	ScanAddresses []uint8 `mapstructure:"scan_slave_ids" yaml:"scan_slave_ids"`
}

func (s Settings) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout * float64(time.Second))
}

// DetectionSpec is the signature read used to recognise a meter.
type DetectionSpec struct {
	Fn             FunctionCode `mapstructure:"fn" yaml:"fn"`
	Register       uint16       `mapstructure:"register" yaml:"register"`
	Count          uint16       `mapstructure:"count" yaml:"count"`
	Type           DecodeType   `mapstructure:"type" yaml:"type"`
	ExpectedPrefix string       `mapstructure:"expected_prefix" yaml:"expected_prefix,omitempty"`
}

func (d DetectionSpec) Layout() Layout {
	return Layout{Type: d.Type, Scale: 1, ByteOrder: ByteOrderBig, WordOrder: WordOrderBig}
}

type ChannelSpec struct {
	Name      string        `mapstructure:"name" yaml:"name"`
	Address   uint8         `mapstructure:"slave_id" yaml:"slave_id"`
	Detection DetectionSpec `mapstructure:"detection" yaml:"detection"`
}

type MeasurementSpec struct {
	Name        string       `mapstructure:"name" yaml:"name"`
	Fn          FunctionCode `mapstructure:"fn" yaml:"fn"`
	Register    uint16       `mapstructure:"register" yaml:"register"`
	Count       uint16       `mapstructure:"count" yaml:"count"`
	Type        DecodeType   `mapstructure:"type" yaml:"type"`
	Scale       *float64     `mapstructure:"scale" yaml:"scale,omitempty"` // nil means 1
	ByteOrder   ByteOrder    `mapstructure:"byteorder" yaml:"byteorder"`
	WordOrder   WordOrder    `mapstructure:"wordorder" yaml:"wordorder"`
	Unit        string       `mapstructure:"unit" yaml:"unit"`
	Description string       `mapstructure:"description" yaml:"description"`
	Relevant    bool         `mapstructure:"relevant" yaml:"relevant"`

	// legacy keys of older map files
	Endian WordOrder `mapstructure:"endian" yaml:"-"`
	AI     bool      `mapstructure:"ai" yaml:"-"`
}

func (m MeasurementSpec) Layout() Layout {
	return Layout{Type: m.Type, Scale: m.ScaleFactor(), ByteOrder: m.ByteOrder, WordOrder: m.WordOrder}
}

func (m MeasurementSpec) ScaleFactor() float64 {
	if m.Scale == nil {
		return 1
	}
	return *m.Scale
}

type RegisterMap struct {
	Settings     Settings          `mapstructure:"settings" yaml:"settings"`
	Channels     []ChannelSpec     `mapstructure:"channels" yaml:"channels"`
	Measurements []MeasurementSpec `mapstructure:"measurements" yaml:"measurements"`
}

// MeasurementMetadata is the descriptor part of a measurement, as shown in
// diagnostic tables.
type MeasurementMetadata struct {
	Name        string       `json:"name"`
	Register    uint16       `json:"register"`
	Fn          FunctionCode `json:"fn"`
	Unit        string       `json:"unit"`
	Description string       `json:"description"`
	Relevant    bool         `json:"relevant"`
}

func (m MeasurementSpec) Metadata() MeasurementMetadata {
	return MeasurementMetadata{
		Name:        m.Name,
		Register:    m.Register,
		Fn:          m.Fn,
		Unit:        m.Unit,
		Description: m.Description,
		Relevant:    m.Relevant,
	}
}

func (r RegisterMap) Metadata() []MeasurementMetadata {
	meta := make([]MeasurementMetadata, 0, len(r.Measurements))
	for _, m := range r.Measurements {
		meta = append(meta, m.Metadata())
	}
	return meta
}

func (r RegisterMap) RelevantFieldNames() []string {
	var names []string
	for _, m := range r.Measurements {
		if m.Relevant {
			names = append(names, m.Name)
		}
	}
	return names
}

// ReadBudget bounds one full pass over the measurements plus the
// validation read, each limited by the line timeout.
func (r RegisterMap) ReadBudget() time.Duration {
	return time.Duration(len(r.Measurements)+1) * r.Settings.TimeoutDuration()
}

// LegacyMixedOrders names the measurements that take a mixed word order
// from the legacy endian key. Older map files read cdab as a byte swap and
// badc as a word swap, the reverse of the names used here.
func LegacyMixedOrders(r RegisterMap) []string {
	var names []string
	for _, m := range r.Measurements {
		if strings.TrimSpace(string(m.WordOrder)) != "" {
			continue
		}
		switch WordOrder(strings.ToLower(strings.TrimSpace(string(m.Endian)))) {
		case WordOrderBADC, WordOrderCDAB:
			names = append(names, strings.TrimSpace(m.Name))
		}
	}
	return names
}

func (r RegisterMap) MeasurementNames() []string {
	names := make([]string, 0, len(r.Measurements))
	for _, m := range r.Measurements {
		names = append(names, m.Name)
	}
	return names
}

// Prepare normalizes and validates a register map loaded from any source.
func Prepare(r RegisterMap) (RegisterMap, error) {
	n := Normalize(r)
	if err := Validate(n); err != nil {
		return RegisterMap{}, err
	}
	return n, nil
}

// Normalize fills defaults and resolves aliases. It never fails; anything
// it cannot resolve is left for Validate to report.
func Normalize(r RegisterMap) RegisterMap {
	out := RegisterMap{Settings: r.Settings}

	s := &out.Settings
	if s.Baudrate == 0 {
		s.Baudrate = 9600
	}
	if s.Bytesize == 0 {
		s.Bytesize = 8
	}
	s.Parity = strings.ToUpper(strings.TrimSpace(s.Parity))
	if s.Parity == "" {
		s.Parity = "N"
	}
	if s.Stopbits == 0 {
		s.Stopbits = 2
	}
	if s.Timeout <= 0 {
		s.Timeout = 1.5
	}
	if len(s.ScanAddresses) == 0 {
		s.ScanAddresses = []uint8{1, 2, 3, 4}
	} else {
		s.ScanAddresses = append([]uint8(nil), s.ScanAddresses...)
	}

	for _, ch := range r.Channels {
		ch.Name = strings.TrimSpace(ch.Name)
		ch.Detection = normalizeDetection(ch.Detection)
		out.Channels = append(out.Channels, ch)
	}

	for _, m := range r.Measurements {
		m.Name = strings.TrimSpace(m.Name)
		if m.Fn == 0 {
			m.Fn = ReadHoldingRegisters
		}
		m.Type = normalizeType(m.Type)
		if m.Count == 0 {
			m.Count = defaultCount(m.Type)
		}
		scale := m.ScaleFactor()
		m.Scale = &scale
		m.ByteOrder = ByteOrder(strings.ToLower(strings.TrimSpace(string(m.ByteOrder))))
		if m.ByteOrder == "" {
			m.ByteOrder = ByteOrderBig
		}
		m.WordOrder = WordOrder(strings.ToLower(strings.TrimSpace(string(m.WordOrder))))
		if m.WordOrder == "" {
			m.WordOrder = WordOrder(strings.ToLower(strings.TrimSpace(string(m.Endian))))
		}
		if m.WordOrder == "" {
			m.WordOrder = WordOrderBig
		}
		m.Endian = ""
		m.Relevant = m.Relevant || m.AI
		m.AI = false
		out.Measurements = append(out.Measurements, m)
	}
	return out
}

func normalizeDetection(d DetectionSpec) DetectionSpec {
	if d.Fn == 0 {
		d.Fn = ReadHoldingRegisters
	}
	d.Type = normalizeType(d.Type)
	if d.Count == 0 {
		d.Count = defaultCount(d.Type)
	}
	d.ExpectedPrefix = strings.TrimSpace(d.ExpectedPrefix)
	return d
}

func normalizeType(t DecodeType) DecodeType {
	if strings.TrimSpace(string(t)) == "" {
		return TypeUint16
	}
	if parsed, err := ParseDecodeType(string(t)); err == nil {
		return parsed
	}
	return t
}

func defaultCount(t DecodeType) uint16 {
	if w := t.Width(); w > 0 {
		return w
	}
	return 1
}

// Validate reports every inconsistency of a normalized register map.
func Validate(r RegisterMap) error {
	var err error

	s := r.Settings
	if s.Baudrate == 0 {
		err = multierr.Append(err, configErrorf("settings.baudrate must be > 0"))
	}
	if s.Bytesize < 5 || s.Bytesize > 8 {
		err = multierr.Append(err, configErrorf("settings.bytesize must be between 5 and 8, got %d", s.Bytesize))
	}
	switch s.Parity {
	case "N", "E", "O":
	default:
		err = multierr.Append(err, configErrorf("settings.parity must be N, E or O, got %q", s.Parity))
	}
	if s.Stopbits != 1 && s.Stopbits != 2 {
		err = multierr.Append(err, configErrorf("settings.stopbits must be 1 or 2, got %d", s.Stopbits))
	}
	if s.Timeout <= 0 {
		err = multierr.Append(err, configErrorf("settings.timeout must be > 0"))
	}
	for _, addr := range s.ScanAddresses {
		if !validAddress(addr) {
			err = multierr.Append(err, configErrorf("settings.scan_slave_ids: invalid address %d", addr))
		}
	}

	for i, ch := range r.Channels {
		where := fmt.Sprintf("channels[%d]", i)
		if ch.Name == "" {
			err = multierr.Append(err, configErrorf("%s: name is required", where))
		}
		if !validAddress(ch.Address) {
			err = multierr.Append(err, configErrorf("%s: invalid slave_id %d", where, ch.Address))
		}
		err = multierr.Append(err, validateRead(where+".detection", ch.Detection.Fn, ch.Detection.Type, ch.Detection.Count))
	}

	seen := make(map[string]bool, len(r.Measurements))
	for i, m := range r.Measurements {
		where := fmt.Sprintf("measurements[%d]", i)
		if m.Name == "" {
			err = multierr.Append(err, configErrorf("%s: name is required", where))
		} else {
			where = fmt.Sprintf("measurement %q", m.Name)
			if seen[m.Name] {
				err = multierr.Append(err, configErrorf("%s: duplicate name", where))
			}
			seen[m.Name] = true
		}
		err = multierr.Append(err, validateRead(where, m.Fn, m.Type, m.Count))
		if m.ScaleFactor() == 0 {
			err = multierr.Append(err, configErrorf("%s: scale must not be 0", where))
		}
		if !m.ByteOrder.Valid() {
			err = multierr.Append(err, configErrorf("%s: invalid byteorder %q", where, m.ByteOrder))
		}
		if !m.WordOrder.Valid() {
			err = multierr.Append(err, configErrorf("%s: invalid wordorder %q", where, m.WordOrder))
		}
	}

	return err
}

func validateRead(where string, fn FunctionCode, t DecodeType, count uint16) error {
	var err error
	if fn != ReadHoldingRegisters && fn != ReadInputRegisters {
		err = multierr.Append(err, configErrorf("%s: unsupported function code %d", where, fn))
	}
	if !t.Valid() {
		return multierr.Append(err, configErrorf("%s: unknown type %q", where, t))
	}
	if w := t.Width(); w > 0 && count != w {
		err = multierr.Append(err, configErrorf("%s: %s needs count %d, got %d", where, t, w, count))
	}
	if count == 0 || count > maxReadCount {
		err = multierr.Append(err, configErrorf("%s: count must be between 1 and %d, got %d", where, maxReadCount, count))
	}
	return err
}

func validAddress(addr uint8) bool {
	return addr >= 1 && addr <= maxUnitAddress
}

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}
