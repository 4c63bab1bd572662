package service

import (
	"fmt"
	"time"

	"github.com/berfenger/meterlink/internal/core/domain"
	"github.com/berfenger/meterlink/pkg/meter_modbus"
	"go.uber.org/zap"
)

// DefaultReconnectPolicy reconnects a lost line every RetryInterval and
// drops a connected line after MaxEmptyCycles snapshots with no readings.
// MaxEmptyCycles 0 keeps a silent line connected.
type DefaultReconnectPolicy struct {
	MaxEmptyCycles uint
	RetryInterval  time.Duration
	Logger         *zap.Logger

	emptyCycles uint
	lastAttempt time.Time
}

func (p *DefaultReconnectPolicy) Evaluate(connected bool, snap *meter_modbus.Snapshot, now time.Time) domain.ReconnectDecision {
	if !connected {
		p.emptyCycles = 0
		if !p.lastAttempt.IsZero() && now.Sub(p.lastAttempt) < p.RetryInterval {
			return domain.ReconnectDecision{}
		}
		p.lastAttempt = now
		return domain.ReconnectDecision{Reconnect: true, Reason: "meter disconnected"}
	}

	if snap == nil || snap.Len() == 0 || snap.PresentCount() > 0 {
		p.emptyCycles = 0
		return domain.ReconnectDecision{}
	}

	p.emptyCycles++
	p.Logger.Debug("reconnect_policy: empty snapshot", zap.Uint("cycles", p.emptyCycles))
	if p.MaxEmptyCycles == 0 || p.emptyCycles < p.MaxEmptyCycles {
		return domain.ReconnectDecision{}
	}

	cycles := p.emptyCycles
	p.emptyCycles = 0
	p.lastAttempt = now
	return domain.ReconnectDecision{
		Reconnect: true,
		Reason:    fmt.Sprintf("no readings for %d cycles", cycles),
	}
}

// Reset restarts counting after a reconnect triggered elsewhere.
func (p *DefaultReconnectPolicy) Reset(now time.Time) {
	p.emptyCycles = 0
	p.lastAttempt = now
}
