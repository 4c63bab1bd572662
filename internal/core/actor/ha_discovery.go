package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/meterlink/internal/config"
	"github.com/berfenger/meterlink/internal/core/domain"
	"github.com/berfenger/meterlink/internal/util/actorutil"
	"github.com/berfenger/meterlink/pkg/meter_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

// HADiscoveryActor announces the bridge and meter entities once both the
// meter and MQTT actors are up, and again whenever a different meter is
// detected.
type HADiscoveryActor struct {
	config             *config.Config
	behavior           actor.Behavior
	stash              *actorutil.Stash
	meterActor         *actor.PID
	mqttActor          *actor.PID
	eventStream        *eventstream.EventStream
	eventStreamSub     *eventstream.Subscription
	meterActorHealthy  bool
	mqttActorHealthy   bool
	healthyRecv        int
	metadata           []meter_modbus.MeasurementMetadata
	announcedMeterName string

	logger *zap.Logger
}

type connectionChanged struct {
	connection meter_modbus.ConnectionInfo
}

func NewHADiscoveryActor(config *config.Config, meterActor *actor.PID, mqttActor *actor.PID, eventStream *eventstream.EventStream, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:      config,
		meterActor:  meterActor,
		mqttActor:   mqttActor,
		eventStream: eventStream,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		state.healthyRecv = 0
		state.meterActorHealthy = false
		state.mqttActorHealthy = false
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.meterActor, domain.ActorHealthRequest{}, 30*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_METER,
				Healthy: false,
			}
		})
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 15*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
		state.unsubscribe()
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.healthyRecv++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_METER:
				state.meterActorHealthy = true
			case domain.ACTOR_ID_MQTT:
				state.mqttActorHealthy = true
			}
		}
		if state.healthyRecv == 2 {
			if !state.meterActorHealthy || !state.mqttActorHealthy {
				panic(errors.New("MQTT actor or meter actor is not healthy"))
			}
			actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.meterActor, domain.GetMeterInfoRequest{}, 5*time.Second), func(err error) any {
				return domain.GetMeterInfoResponse{ActorResponseMixIn: domain.ErrorResponse(err)}
			})
			state.behavior.Become(state.WaitingInfoReceive)
			state.stash.UnstashAll(ctx)
		}
	case *actor.Restarting:
		state.unsubscribe()
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingInfoReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetMeterInfoResponse:
		if msg.HasResponseError() {
			panic(msg.GetResponseError())
		}
		state.logger.Debug("hadiscovery@info: GetMeterInfoResponse", zap.Int("measurements", len(msg.Metadata)))
		state.metadata = msg.Metadata
		state.announce(ctx, msg.Connection)

		if state.eventStream != nil {
			self := ctx.Self()
			root := ctx.ActorSystem().Root
			state.eventStreamSub = state.eventStream.Subscribe(func(value any) {
				if ev, ok := value.(domain.ConnectionEvent); ok {
					root.Send(self, connectionChanged{connection: ev.Connection})
				}
			})
		}
		state.behavior.Become(state.AnnouncedReceive)
	case *actor.Restarting:
		state.unsubscribe()
	default:
		state.logger.Debug("hadiscovery@info: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) AnnouncedReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case connectionChanged:
		if msg.connection.Identifier == "" || msg.connection.Identifier == state.announcedMeterName {
			return
		}
		state.logger.Info("hadiscovery@announced meter changed", zap.String("identifier", msg.connection.Identifier))
		state.announce(ctx, msg.connection)
	case *actor.Restarting:
		state.unsubscribe()
	case *actor.Stopping:
		state.unsubscribe()
	}
}

func (state *HADiscoveryActor) announce(ctx actor.Context, connection meter_modbus.ConnectionInfo) {
	var sensors []domain.GenericSensor

	bridgeDevice := domain.BridgeDevice(state.config.MQTT.BaseTopic)
	sensors = append(sensors, domain.BridgeSensors(bridgeDevice)...)

	meterDevice := domain.MeterDevice(connection, bridgeDevice)
	meterSensors := domain.MeasurementSensors(meterDevice, state.metadata)
	meterSensors = append(meterSensors, domain.ConnectionSensors(meterDevice)...)
	for i := range meterSensors {
		// the full device block is sent once
		if i > 0 {
			meterSensors[i].Device = domain.IdDevice(meterDevice)
		}
		sensors = append(sensors, meterSensors[i])
	}

	ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
		Sensors: sensors,
		Buttons: []domain.GenericButton{domain.ReconnectButton(domain.IdDevice(meterDevice))},
	})
	state.announcedMeterName = connection.Identifier
}

func (state *HADiscoveryActor) unsubscribe() {
	if state.eventStreamSub != nil {
		state.eventStream.Unsubscribe(state.eventStreamSub)
		state.eventStreamSub = nil
	}
}
