package actor

import (
	"errors"
	"fmt"
	"time"

	adactor "github.com/berfenger/meterlink/internal/adapter/actor"
	"github.com/berfenger/meterlink/internal/config"
	"github.com/berfenger/meterlink/internal/core/domain"
	. "github.com/berfenger/meterlink/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type MeterActorProvider func() *adactor.MeterActor

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

type AcquisitionActorProvider func(meterActor *actor.PID, eventStream *eventstream.EventStream) *AcquisitionActor

// MasterOfPuppetsActor is the root of the actor tree. It spawns and
// supervises the children, routes API requests to them and aggregates
// their health.
type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck healthCheckResult
	eventStream        *eventstream.EventStream
	meterActor         *actor.PID
	acquisitionActor   *actor.PID
	mqttActor          *actor.PID

	meterActorProvider       MeterActorProvider
	acquisitionActorProvider AcquisitionActorProvider
	mqttActorProvider        MQTTActorProvider
	logger                   *zap.Logger
}

type healthCheckResult struct {
	expected  int
	received  int
	unhealthy []string
	states    map[string]string
	respondTo *actor.PID
}

func NewMasterOfPuppetsActor(config config.Config, meterActorProvider MeterActorProvider,
	acquisitionActorProvider AcquisitionActorProvider, mqttActorProvider MQTTActorProvider, logger *zap.Logger) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		config:                   config,
		behavior:                 actor.NewBehavior(),
		stash:                    &Stash{},
		logger:                   ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:              &eventstream.EventStream{},
		meterActorProvider:       meterActorProvider,
		acquisitionActorProvider: acquisitionActorProvider,
		mqttActorProvider:        mqttActorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

// EventStream is where snapshots and connection changes are published.
func (state *MasterOfPuppetsActor) EventStream() *eventstream.EventStream {
	return state.eventStream
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		meterActorPID, err := state.startMeterActor(ctx)
		if err != nil {
			panic(err)
		}
		state.meterActor = meterActorPID

		acquisitionActorPID, err := state.startAcquisitionActor(ctx)
		if err != nil {
			panic(err)
		}
		state.acquisitionActor = acquisitionActorPID

		if state.mqttEnabled() {
			mqttActorPID, err := state.startMQTTActor(ctx)
			if err != nil {
				panic(err)
			}
			state.mqttActor = mqttActorPID

			if state.config.MQTT.HADiscoveryEnable {
				if _, err := state.startHADiscoveryActor(ctx); err != nil {
					panic(err)
				}
			}
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		children := state.children()
		state.currentHealthCheck.reset(len(children))
		state.currentHealthCheck.respondTo = ctx.Sender()
		for id, pid := range children {
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      id,
					Healthy: false,
				}
			})
		}

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.MeterRequest:
		ctx.Forward(state.meterActor)
	case domain.GetLatestSnapshotRequest:
		ctx.Forward(state.acquisitionActor)
	case adactor.ParsedCommand:
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command == nil {
			return
		}
		req, err := ParsedMQTTCommandToRequest(*msg.Command)
		if err != nil {
			state.logger.Warn("master@default unsupported command", zap.Error(err))
			return
		}
		ctx.Request(state.meterActor, req)
	case domain.ReconnectResponse:
		// reply to a command received over MQTT
		if msg.HasResponseError() {
			state.logger.Warn("master@default reconnect failed", zap.Error(msg.GetResponseError()))
		} else {
			state.logger.Info("master@default reconnected", zap.String("port", msg.Connection.Port),
				zap.String("identifier", msg.Connection.Identifier))
		}
	case *actor.Terminated:
		// the meter actor gave up restarting; nothing works without it
		if msg.Who.Id == fmt.Sprintf("%s/%s", domain.ACTOR_ID_MASTER, domain.ACTOR_ID_METER) {
			state.logger.Error("master@default meter actor terminated")
			panic(errors.New("meter terminated"))
		}
	default:
		state.logger.Debug("master@default unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// children that did not answer count as unhealthy
		state.finishHealthCheck(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.add(msg)
		if state.currentHealthCheck.allReceived() {
			state.finishHealthCheck(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) finishHealthCheck(ctx actor.Context) {
	ctx.CancelReceiveTimeout()
	state.currentHealthCheck.respond(ctx)
	state.behavior.UnbecomeStacked()
	state.stash.UnstashAll(ctx)
}

func (state *MasterOfPuppetsActor) children() map[string]*actor.PID {
	children := map[string]*actor.PID{
		domain.ACTOR_ID_METER:       state.meterActor,
		domain.ACTOR_ID_ACQUISITION: state.acquisitionActor,
	}
	if state.mqttActor != nil {
		children[domain.ACTOR_ID_MQTT] = state.mqttActor
	}
	return children
}

func (state *MasterOfPuppetsActor) mqttEnabled() bool {
	return state.config.MQTT.Enable && state.mqttActorProvider != nil
}

func (state *MasterOfPuppetsActor) startMeterActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	meterProps := actor.PropsFromProducer(func() actor.Actor {
		return state.meterActorProvider()
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(meterProps, domain.ACTOR_ID_METER)
}

func (state *MasterOfPuppetsActor) startAcquisitionActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewOneForOneStrategy(10, 30*time.Second, state.restartDecider)

	acquisitionProps := actor.PropsFromProducer(func() actor.Actor {
		return state.acquisitionActorProvider(state.meterActor, state.eventStream)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(acquisitionProps, domain.ACTOR_ID_ACQUISITION)
}

func (state *MasterOfPuppetsActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, state.restartDecider)

	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, state.meterActor, state.mqttActor, state.eventStream, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
}

func (state *MasterOfPuppetsActor) restartDecider(reason interface{}) actor.Directive {
	state.logger.Warn("master: restarting child", zap.Any("reason", reason))
	return actor.RestartDirective
}

func (state *healthCheckResult) reset(expected int) {
	state.expected = expected
	state.received = 0
	state.unhealthy = nil
	state.states = make(map[string]string, expected)
	state.respondTo = nil
}

func (state *healthCheckResult) add(resp domain.ActorHealthResponse) {
	state.received++
	if !resp.Healthy {
		state.unhealthy = append(state.unhealthy, resp.Id)
	}
	if resp.State != "" {
		state.states[resp.Id] = resp.State
	}
}

func (state *healthCheckResult) allReceived() bool {
	return state.received >= state.expected
}

func (state *healthCheckResult) allHealthy() bool {
	return state.allReceived() && len(state.unhealthy) == 0
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
		State:   state.states[domain.ACTOR_ID_METER],
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
