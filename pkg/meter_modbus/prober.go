package meter_modbus

import (
	"context"
	"fmt"
	"strings"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// PortLister returns candidate serial ports in host enumeration order.
type PortLister func() ([]string, error)

func SerialPortLister() ([]string, error) {
	return serial.GetPortsList()
}

type DetectionResult struct {
	Port        string `json:"port"`
	Address     uint8  `json:"address"`
	ChannelName string `json:"channel"`
	Identifier  string `json:"identifier,omitempty"`
}

type DeviceProber struct {
	settings Settings
	factory  TransportFactory
	logger   *zap.Logger
}

func NewDeviceProber(settings Settings, factory TransportFactory, logger *zap.Logger) *DeviceProber {
	return &DeviceProber{
		settings: settings,
		factory:  factory,
		logger:   logger,
	}
}

// SynthesizeChannels builds one generic channel per scan address, used when
// a register map declares no channels.
func SynthesizeChannels(addresses []uint8) []ChannelSpec {
	channels := make([]ChannelSpec, 0, len(addresses))
	for _, addr := range addresses {
		channels = append(channels, ChannelSpec{
			Name:    fmt.Sprintf("meter address %d", addr),
			Address: addr,
			Detection: DetectionSpec{
				Fn:       ReadHoldingRegisters,
				Register: 0,
				Count:    1,
				Type:     TypeUint16,
			},
		})
	}
	return channels
}

// Discover returns the first port/channel pair whose detection read succeeds.
// Every attempt uses its own transport, closed before the next one starts.
func (p *DeviceProber) Discover(ctx context.Context, ports []string, channels []ChannelSpec) (*DetectionResult, error) {
	if len(ports) == 0 {
		return nil, fmt.Errorf("%w: no serial ports found", ErrDiscovery)
	}
	if len(channels) == 0 {
		channels = SynthesizeChannels(p.settings.ScanAddresses)
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: no channels or scan addresses configured", ErrDiscovery)
	}

	for _, port := range ports {
		for _, ch := range channels {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
			}
			identifier, err := p.probe(port, ch)
			if err != nil {
				p.logger.Debug("probe: no match",
					zap.String("port", port), zap.String("channel", ch.Name),
					zap.Uint8("address", ch.Address), zap.Error(err))
				continue
			}
			p.logger.Info("probe: meter found",
				zap.String("port", port), zap.String("channel", ch.Name),
				zap.Uint8("address", ch.Address), zap.String("identifier", identifier))
			return &DetectionResult{
				Port:        port,
				Address:     ch.Address,
				ChannelName: ch.Name,
				Identifier:  identifier,
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: no compatible meter on %d port(s) x %d channel(s)", ErrDiscovery, len(ports), len(channels))
}

func (p *DeviceProber) probe(port string, ch ChannelSpec) (string, error) {
	transport, err := p.factory(port, p.settings)
	if err != nil {
		return "", err
	}
	defer transport.Close()

	if err := transport.Open(); err != nil {
		return "", err
	}

	det := ch.Detection
	words, err := transport.ReadRegisters(det.Fn, det.Register, det.Count, ch.Address)
	if err != nil {
		return "", err
	}
	value, err := Decode(words, det.Layout())
	if err != nil {
		return "", err
	}

	identifier := value.String()
	if det.ExpectedPrefix != "" && !strings.HasPrefix(strings.ToUpper(identifier), strings.ToUpper(det.ExpectedPrefix)) {
		return "", fmt.Errorf("%w: identifier %q does not start with %q", ErrDiscovery, identifier, det.ExpectedPrefix)
	}
	return identifier, nil
}
