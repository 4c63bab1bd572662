package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/meterlink/internal/core/domain"
	"github.com/berfenger/meterlink/internal/core/port"
	"github.com/berfenger/meterlink/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// connectSlack covers closing the previous line before discovery.
const connectSlack = 2 * time.Second

// MeterActor owns the meter session. Every request that touches the line
// runs as a background task while other messages are stashed, so reads and
// reconnects never overlap.
type MeterActor struct {
	behavior       actor.Behavior
	stash          *actorutil.Stash
	session        port.MeterReader
	connectTimeout time.Duration
	readTimeout    time.Duration
	logger         *zap.Logger
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

// initialConnect is the outcome of the connect attempt made on start.
type initialConnect struct {
	response domain.ReconnectResponse
}

func NewMeterActor(session port.MeterReader, connectTimeout, readTimeout time.Duration, logger *zap.Logger) *MeterActor {
	act := &MeterActor{
		session:        session,
		connectTimeout: connectTimeout,
		readTimeout:    readTimeout,
		behavior:       actor.NewBehavior(),
		stash:          &actorutil.Stash{},
		logger:         actorutil.ActorLogger(domain.ACTOR_ID_METER, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MeterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MeterActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("meter@starting started")
		actorutil.NewBackgroundTaskNoError(ctx, func() *initialConnect {
			return &initialConnect{response: state.connect()}
		}).Recover(func(err error) initialConnect {
			return initialConnect{response: domain.ReconnectResponse{ActorResponseMixIn: domain.ErrorResponse(err)}}
		}).WithTimeout(state.connectBudget()).PipeTo(ctx.Self())
	case initialConnect:
		if msg.response.HasResponseError() {
			// not fatal: the acquisition loop keeps retrying
			state.logger.Warn("meter@starting no meter connected", zap.Error(msg.response.GetResponseError()))
		} else {
			state.logger.Info("meter@starting connected", zap.Any("connection", msg.response.Connection))
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.close()
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("meter@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MeterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("meter@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_METER,
			Healthy: true,
			State:   string(state.session.ConnectionInfo().Status),
		})
	case domain.GetMeterInfoRequest:
		state.logger.Debug("meter@default: GetMeterInfoRequest")
		actorutil.ForRequest(msg).Respond(ctx, domain.GetMeterInfoResponse{
			Metadata:   state.session.RegisterMetadata(),
			Relevant:   state.session.RelevantFieldNames(),
			Connection: state.session.ConnectionInfo(),
		})
	case domain.GetLastScanRequest:
		state.logger.Debug("meter@default: GetLastScanRequest")
		actorutil.ForRequest(msg).Respond(ctx, domain.GetLastScanResponse{
			Rows: state.session.LastScan(),
		})
	case domain.GetSnapshotRequest:
		state.logger.Debug("meter@default: GetSnapshotRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTaskNoError(ctx, state.readAll),
			mapTaskResult[domain.GetSnapshotResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.GetSnapshotResponse{ActorResponseMixIn: domain.ErrorResponse(err)},
				replyTo: sender,
			}
		}).WithTimeout(state.readTimeout).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingMeter)
	case domain.ScanRegistersRequest:
		state.logger.Debug("meter@default: ScanRegistersRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTaskNoError(ctx, state.scan),
			mapTaskResult[domain.ScanRegistersResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.ScanRegistersResponse{ActorResponseMixIn: domain.ErrorResponse(err)},
				replyTo: sender,
			}
		}).WithTimeout(state.readTimeout).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingMeter)
	case domain.ReconnectRequest:
		state.logger.Info("meter@default: ReconnectRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTaskNoError(ctx, func() *domain.ReconnectResponse {
			resp := state.connect()
			return &resp
		}), mapTaskResult[domain.ReconnectResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.ReconnectResponse{ActorResponseMixIn: domain.ErrorResponse(err)},
				replyTo: sender,
			}
		}).WithTimeout(state.connectBudget()).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingMeter)
	case *actor.Restarting:
		state.close()
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("meter@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MeterActor) WaitingMeter(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("meter@WaitingMeter backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, msg.message)
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("meter@WaitingMeter stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// connectBudget bounds a whole Connect: discovery, then the validation read
// and the scan, which together cost one read budget.
func (state *MeterActor) connectBudget() time.Duration {
	return state.connectTimeout + state.readTimeout + connectSlack
}

func (state *MeterActor) connect() domain.ReconnectResponse {
	cctx, cancel := context.WithTimeout(context.Background(), state.connectTimeout)
	defer cancel()

	err := state.session.Connect(cctx)
	if err != nil {
		state.logger.Warn("meter: connect failed", zap.Error(err))
	}
	return domain.ReconnectResponse{
		ActorResponseMixIn: domain.ErrorResponse(err),
		Connection:         state.session.ConnectionInfo(),
	}
}

func (state *MeterActor) readAll() *domain.GetSnapshotResponse {
	snap := state.session.ReadAll()
	return &domain.GetSnapshotResponse{
		Snapshot:   snap,
		Connection: state.session.ConnectionInfo(),
	}
}

func (state *MeterActor) scan() *domain.ScanRegistersResponse {
	return &domain.ScanRegistersResponse{
		Rows: state.session.ScanRegisters(),
	}
}

func (state *MeterActor) close() {
	if err := state.session.Close(); err != nil {
		state.logger.Warn("meter: close failed", zap.Error(err))
	}
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
