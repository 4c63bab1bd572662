package meter_modbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnected    Status = "connected"
	StatusSimulated    Status = "simulated"
)

type ConnectionInfo struct {
	Status      Status     `json:"status"`
	Port        string     `json:"port,omitempty"`
	Address     uint8      `json:"address,omitempty"`
	Channel     string     `json:"channel,omitempty"`
	Identifier  string     `json:"identifier,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
}

// Override pins the port and/or address. With both set discovery is
// skipped; with one set discovery is narrowed to it.
type Override struct {
	Port    string
	Address uint8
}

func (o Override) Complete() bool {
	return o.Port != "" && o.Address != 0
}

type SessionOption func(*ReaderSession)

func WithOverride(o Override) SessionOption {
	return func(s *ReaderSession) {
		s.override = o
	}
}

func WithPortLister(lister PortLister) SessionOption {
	return func(s *ReaderSession) {
		s.lister = lister
	}
}

func WithClock(now func() time.Time) SessionOption {
	return func(s *ReaderSession) {
		s.now = now
	}
}

// WithSimulation puts a simulated meter behind the session. Discovery is
// skipped and the connection reports StatusSimulated.
func WithSimulation(meter *SimulatedMeter) SessionOption {
	return func(s *ReaderSession) {
		s.factory = meter.Factory()
		s.simulation = meter
		s.override = Override{Port: SimulatedPort, Address: meter.Address()}
	}
}

// ReaderSession owns the persistent transport to one meter. All methods are
// serialized; a read never overlaps another read or a reconnect.
type ReaderSession struct {
	regmap     RegisterMap
	factory    TransportFactory
	lister     PortLister
	override   Override
	simulation *SimulatedMeter
	now        func() time.Time
	logger     *zap.Logger

	lock      sync.Mutex
	transport Transport
	address   uint8
	info      ConnectionInfo
	lastScan  []ScanRow
}

func NewReaderSession(regmap RegisterMap, factory TransportFactory, logger *zap.Logger, opts ...SessionOption) *ReaderSession {
	s := &ReaderSession{
		regmap:  regmap,
		factory: factory,
		lister:  SerialPortLister,
		now:     time.Now,
		logger:  logger,
		info:    ConnectionInfo{Status: StatusDisconnected},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect finds the meter, opens the persistent line and verifies it with
// one read before reporting connected. A previous link is closed first.
func (s *ReaderSession) Connect(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.closeLocked(); err != nil {
		s.logger.Warn("session: close previous transport", zap.Error(err))
	}

	result, err := s.resolve(ctx)
	if err != nil {
		return fmt.Errorf("%w: no device found: %w", ErrConnection, err)
	}

	transport, err := s.factory(result.Port, s.regmap.Settings)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnection, result.Port, err)
	}
	if err := transport.Open(); err != nil {
		transport.Close()
		return fmt.Errorf("%w: %s: %w", ErrConnection, result.Port, err)
	}

	if spec, ok := s.validationSpec(); ok {
		if _, err := s.read(transport, result.Address, spec); err != nil {
			transport.Close()
			s.logger.Warn("session: connection test failed",
				zap.String("port", result.Port), zap.Uint8("address", result.Address), zap.Error(err))
			return fmt.Errorf("%w: connection test failed: %w", ErrConnection, err)
		}
	}

	status := StatusConnected
	if s.simulation != nil {
		status = StatusSimulated
	}
	connectedAt := s.now()
	s.transport = transport
	s.address = result.Address
	s.info = ConnectionInfo{
		Status:      status,
		Port:        result.Port,
		Address:     result.Address,
		Channel:     result.ChannelName,
		Identifier:  result.Identifier,
		ConnectedAt: &connectedAt,
	}
	s.logger.Info("session: connected",
		zap.String("status", string(status)), zap.String("port", result.Port),
		zap.Uint8("address", result.Address), zap.String("identifier", result.Identifier))

	s.lastScan = s.scanLocked()
	return nil
}

func (s *ReaderSession) resolve(ctx context.Context) (*DetectionResult, error) {
	if s.override.Complete() {
		result := &DetectionResult{
			Port:        s.override.Port,
			Address:     s.override.Address,
			ChannelName: fmt.Sprintf("forced address %d", s.override.Address),
		}
		if s.simulation != nil {
			result.ChannelName = "simulated meter"
			result.Identifier = s.simulation.Identifier()
		}
		return result, nil
	}

	var ports []string
	if s.override.Port != "" {
		ports = []string{s.override.Port}
	} else {
		listed, err := s.lister()
		if err != nil {
			return nil, fmt.Errorf("%w: list serial ports: %w", ErrDiscovery, err)
		}
		ports = listed
	}

	channels := s.regmap.Channels
	if s.override.Address != 0 {
		channels = channelsForAddress(channels, s.override.Address)
	}

	return NewDeviceProber(s.regmap.Settings, s.factory, s.logger).Discover(ctx, ports, channels)
}

func channelsForAddress(channels []ChannelSpec, address uint8) []ChannelSpec {
	var matched []ChannelSpec
	for _, ch := range channels {
		if ch.Address == address {
			matched = append(matched, ch)
		}
	}
	if len(matched) == 0 {
		return SynthesizeChannels([]uint8{address})
	}
	return matched
}

// validationSpec is the first relevant measurement, else the first one.
func (s *ReaderSession) validationSpec() (MeasurementSpec, bool) {
	for _, m := range s.regmap.Measurements {
		if m.Relevant {
			return m, true
		}
	}
	if len(s.regmap.Measurements) > 0 {
		return s.regmap.Measurements[0], true
	}
	return MeasurementSpec{}, false
}

func (s *ReaderSession) read(transport Transport, address uint8, spec MeasurementSpec) (Value, error) {
	words, err := transport.ReadRegisters(spec.Fn, spec.Register, spec.Count, address)
	if err != nil {
		if errors.Is(err, ErrRead) {
			return Value{}, fmt.Errorf("%s: %w", spec.Name, err)
		}
		return Value{}, fmt.Errorf("%w: %s: %w", ErrRead, spec.Name, err)
	}
	value, err := Decode(words, spec.Layout())
	if err != nil {
		return Value{}, fmt.Errorf("%s: %w", spec.Name, err)
	}
	return value, nil
}

func (s *ReaderSession) readingLocked(spec MeasurementSpec) Reading {
	if s.transport == nil {
		return Reading{Name: spec.Name, Err: ErrNotConnected}
	}
	value, err := s.read(s.transport, s.address, spec)
	if err != nil {
		s.logger.Debug("session: read failed", zap.String("measurement", spec.Name), zap.Error(err))
		return Reading{Name: spec.Name, Err: err}
	}
	return Reading{Name: spec.Name, Value: value}
}

// ReadAll reads every measurement once. It always returns one reading per
// measurement; failures are recorded as absences.
func (s *ReaderSession) ReadAll() Snapshot {
	s.lock.Lock()
	defer s.lock.Unlock()

	snap := Snapshot{
		Time:     s.now(),
		Readings: make([]Reading, 0, len(s.regmap.Measurements)),
	}
	for _, spec := range s.regmap.Measurements {
		snap.Readings = append(snap.Readings, s.readingLocked(spec))
	}
	return snap
}

// ScanRegisters reads every measurement and pairs it with its descriptor.
func (s *ReaderSession) ScanRegisters() []ScanRow {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.lastScan = s.scanLocked()
	return append([]ScanRow(nil), s.lastScan...)
}

func (s *ReaderSession) scanLocked() []ScanRow {
	rows := make([]ScanRow, 0, len(s.regmap.Measurements))
	for _, spec := range s.regmap.Measurements {
		rows = append(rows, ScanRow{
			MeasurementMetadata: spec.Metadata(),
			Reading:             s.readingLocked(spec),
		})
	}
	return rows
}

// LastScan is the result of the latest ScanRegisters, including the one
// taken by Connect.
func (s *ReaderSession) LastScan() []ScanRow {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]ScanRow(nil), s.lastScan...)
}

func (s *ReaderSession) RegisterMetadata() []MeasurementMetadata {
	return s.regmap.Metadata()
}

func (s *ReaderSession) RelevantFieldNames() []string {
	return s.regmap.RelevantFieldNames()
}

func (s *ReaderSession) RegisterMap() RegisterMap {
	return s.regmap
}

func (s *ReaderSession) ConnectionInfo() ConnectionInfo {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.info
}

func (s *ReaderSession) Connected() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.transport != nil
}

// Close releases the transport and resets the connection info. Safe to call
// more than once.
func (s *ReaderSession) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.closeLocked()
}

func (s *ReaderSession) closeLocked() error {
	var err error
	if s.transport != nil {
		err = s.transport.Close()
		s.transport = nil
		s.logger.Info("session: closed", zap.String("port", s.info.Port))
	}
	s.address = 0
	s.info = ConnectionInfo{Status: StatusDisconnected}
	return err
}
