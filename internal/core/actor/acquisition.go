package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/meterlink/internal/config"
	"github.com/berfenger/meterlink/internal/core/domain"
	"github.com/berfenger/meterlink/internal/core/events"
	"github.com/berfenger/meterlink/internal/core/port"
	. "github.com/berfenger/meterlink/internal/util/actorutil"
	"github.com/berfenger/meterlink/pkg/meter_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// MeterTimeouts bounds the requests sent to the meter actor.
type MeterTimeouts struct {
	Connect time.Duration
	Read    time.Duration
}

// ConnectBudget covers discovery plus the validation read and scan that
// follow it.
func (t MeterTimeouts) ConnectBudget() time.Duration {
	return t.Connect + t.Read
}

// requestSlack covers mailbox latency on top of the meter's own budget.
const requestSlack = 3 * time.Second

// AcquisitionActor polls the meter on a fixed interval, publishes every
// snapshot on the event stream and applies the reconnect policy. The next
// tick is only scheduled once the current cycle is complete.
type AcquisitionActor struct {
	behavior  actor.Behavior
	stash     *Stash
	scheduler *scheduler.TimerScheduler

	meterActor  *actor.PID
	config      *config.Config
	eventStream *eventstream.EventStream
	policy      port.ReconnectPolicy
	observer    port.AcquisitionObserver
	timeouts    MeterTimeouts
	now         func() time.Time

	units      map[string]string
	latest     *meter_modbus.Snapshot
	connection meter_modbus.ConnectionInfo

	logger *zap.Logger
}

type acquisitionTick struct {
}

func NewAcquisitionActor(config *config.Config, meterActor *actor.PID, eventStream *eventstream.EventStream,
	policy port.ReconnectPolicy, observer port.AcquisitionObserver, timeouts MeterTimeouts, logger *zap.Logger) *AcquisitionActor {
	if observer == nil {
		observer = noopObserver{}
	}
	act := &AcquisitionActor{
		config:      config,
		meterActor:  meterActor,
		eventStream: eventStream,
		policy:      policy,
		observer:    observer,
		timeouts:    timeouts,
		now:         time.Now,
		behavior:    actor.NewBehavior(),
		stash:       &Stash{},
		logger:      ActorLogger(domain.ACTOR_ID_ACQUISITION, logger),
		connection:  meter_modbus.ConnectionInfo{Status: meter_modbus.StatusDisconnected},
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *AcquisitionActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *AcquisitionActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("acquisition@starting started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)

		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.meterActor, domain.GetMeterInfoRequest{},
			state.timeouts.ConnectBudget()+requestSlack), func(err error) any {
			return domain.GetMeterInfoResponse{ActorResponseMixIn: domain.ErrorResponse(err)}
		})
		state.behavior.Become(state.WaitingInfoReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("acquisition@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *AcquisitionActor) WaitingInfoReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetMeterInfoResponse:
		if msg.HasResponseError() {
			// the meter actor is restarted by its supervisor; so are we
			panic(fmt.Errorf("meter info unavailable: %w", msg.GetResponseError()))
		}
		state.logger.Debug("acquisition@waitingInfo GetMeterInfoResponse", zap.Any("connection", msg.Connection))
		state.units = events.UnitsByName(msg.Metadata)
		state.updateConnection(msg.Connection, true)

		state.scheduleTick(ctx)
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("acquisition@waitingInfo: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *AcquisitionActor) DefaultReceive(ctx actor.Context) {
	if state.answerQuery(ctx) {
		return
	}
	switch msg := ctx.Message().(type) {
	case acquisitionTick:
		state.logger.Debug("acquisition@default tick")
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.meterActor, domain.GetSnapshotRequest{},
			state.timeouts.Read+requestSlack), func(err error) any {
			return domain.GetSnapshotResponse{ActorResponseMixIn: domain.ErrorResponse(err)}
		})
		state.behavior.BecomeStacked(state.WaitingSnapshotReceive)
	default:
		state.logger.Debug("acquisition@default: unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *AcquisitionActor) WaitingSnapshotReceive(ctx actor.Context) {
	if state.answerQuery(ctx) {
		return
	}
	switch msg := ctx.Message().(type) {
	case domain.GetSnapshotResponse:
		now := state.now()
		var decision domain.ReconnectDecision
		if msg.HasResponseError() {
			state.logger.Error("acquisition@waiting GetSnapshotResponse error", zap.Error(msg.GetResponseError()))
			decision = state.policy.Evaluate(state.connection.Status != meter_modbus.StatusDisconnected, nil, now)
		} else {
			state.logger.Debug("acquisition@waiting GetSnapshotResponse",
				zap.Int("present", msg.Snapshot.PresentCount()), zap.Int("total", msg.Snapshot.Len()))
			state.publishSnapshot(msg.Snapshot)
			state.updateConnection(msg.Connection, false)
			decision = state.policy.Evaluate(msg.Connection.Status != meter_modbus.StatusDisconnected, &msg.Snapshot, now)
		}

		state.behavior.UnbecomeStacked()
		if decision.Reconnect {
			state.logger.Info("acquisition@waiting reconnecting", zap.String("reason", decision.Reason))
			state.observer.IncReconnects()
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.meterActor, domain.ReconnectRequest{},
				state.timeouts.ConnectBudget()+requestSlack), func(err error) any {
				return domain.ReconnectResponse{ActorResponseMixIn: domain.ErrorResponse(err)}
			})
			state.behavior.BecomeStacked(state.WaitingReconnectReceive)
			return
		}
		state.scheduleTick(ctx)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("acquisition@waiting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *AcquisitionActor) WaitingReconnectReceive(ctx actor.Context) {
	if state.answerQuery(ctx) {
		return
	}
	switch msg := ctx.Message().(type) {
	case domain.ReconnectResponse:
		if msg.HasResponseError() {
			state.logger.Warn("acquisition@reconnect failed", zap.Error(msg.GetResponseError()))
		} else {
			state.logger.Info("acquisition@reconnect connected", zap.String("port", msg.Connection.Port),
				zap.String("identifier", msg.Connection.Identifier))
			state.policy.Reset(state.now())
		}
		if msg.Connection.Status != "" {
			state.updateConnection(msg.Connection, false)
		}
		state.behavior.UnbecomeStacked()
		state.scheduleTick(ctx)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("acquisition@reconnect: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// answerQuery serves requests that only need cached state, in any state.
func (state *AcquisitionActor) answerQuery(ctx actor.Context) bool {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_ACQUISITION,
			Healthy: true,
			State:   string(state.connection.Status),
		})
		return true
	case domain.GetLatestSnapshotRequest:
		ForRequest(msg).Respond(ctx, domain.GetLatestSnapshotResponse{
			Snapshot:   state.latest,
			Connection: state.connection,
		})
		return true
	}
	return false
}

func (state *AcquisitionActor) publishSnapshot(snap meter_modbus.Snapshot) {
	state.latest = &snap
	state.observer.ObserveSnapshot(snap, state.units)
	state.eventStream.Publish(domain.SnapshotEvent{Snapshot: snap})
	for _, ev := range events.SnapshotToUpdateEvents(snap, state.units) {
		state.eventStream.Publish(ev)
	}
}

func (state *AcquisitionActor) updateConnection(info meter_modbus.ConnectionInfo, force bool) {
	changed := info.Status != state.connection.Status ||
		info.Port != state.connection.Port ||
		info.Address != state.connection.Address ||
		info.Identifier != state.connection.Identifier
	state.connection = info
	state.observer.SetConnected(info.Status != meter_modbus.StatusDisconnected)
	if !changed && !force {
		return
	}
	state.logger.Info("acquisition: connection changed", zap.String("status", string(info.Status)),
		zap.String("port", info.Port), zap.String("identifier", info.Identifier))
	state.eventStream.Publish(domain.ConnectionEvent{Connection: info})
	for _, ev := range events.ConnectionInfoToUpdateEvents(info) {
		state.eventStream.Publish(ev)
	}
}

func (state *AcquisitionActor) scheduleTick(ctx actor.Context) {
	state.scheduler.RequestOnce(state.config.MonitorConfig.PollInterval(), ctx.Self(), acquisitionTick{})
}

type noopObserver struct{}

func (noopObserver) ObserveSnapshot(meter_modbus.Snapshot, map[string]string) {}
func (noopObserver) SetConnected(bool)                                        {}
func (noopObserver) IncReconnects()                                           {}
