package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/berfenger/meterlink/internal/adapter/actor"
	"github.com/berfenger/meterlink/internal/config"
	"github.com/berfenger/meterlink/internal/core/actor"
	"github.com/berfenger/meterlink/internal/core/service"
	"github.com/berfenger/meterlink/internal/metrics"
	"github.com/berfenger/meterlink/internal/server"
	"github.com/berfenger/meterlink/internal/util/actorutil"
	"github.com/berfenger/meterlink/pkg/meter_modbus"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// the server has 5 seconds to finish the request it is handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	done <- true
}

func main() {

	// load and print config
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	slog.Info("Using", "config", cfg.Redacted())

	regmap, err := config.LoadRegisterMap(cfg.RegisterMapFile)
	if err != nil {
		slog.Error("register map errors", "error", err)
		return
	}

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	meterMetrics := metrics.New()

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	session := newReaderSession(cfg, regmap, meterMetrics, logger)
	timeouts := actor.MeterTimeouts{
		Connect: cfg.MonitorConfig.DiscoveryTimeout(),
		Read:    regmap.ReadBudget(),
	}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg,
			meterActorProvider(session, timeouts, logger),
			acquisitionActorProvider(cfg, timeouts, meterMetrics, logger),
			mqttActorProvider(cfg, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		logger.Error("master actor failed to start", zap.Error(err))
		return
	}

	server := server.NewServer(*cfg, ctx, pid, timeouts.ConnectBudget()+5*time.Second, meterMetrics.Handler())
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func newReaderSession(cfg *config.Config, regmap meter_modbus.RegisterMap, m *metrics.Metrics, logger *zap.Logger) *meter_modbus.ReaderSession {
	factory := meter_modbus.RTUTransportFactory(m.Instrument())
	if cfg.Serial.Backend == config.BackendGoburrow {
		factory = meter_modbus.GoburrowTransportFactory(m.Instrument())
	}

	opts := []meter_modbus.SessionOption{
		meter_modbus.WithOverride(meter_modbus.Override{
			Port:    cfg.Serial.Port,
			Address: uint8(cfg.Serial.SlaveId),
		}),
	}
	if cfg.Simulate {
		logger.Warn("using a simulated meter")
		sim := meter_modbus.NewSimulatedMeter(regmap, "CH30-SIM", uint64(time.Now().UnixNano()))
		opts = append(opts, meter_modbus.WithSimulation(sim))
	}
	return meter_modbus.NewReaderSession(regmap, factory, logger, opts...)
}

func meterActorProvider(session *meter_modbus.ReaderSession, timeouts actor.MeterTimeouts, logger *zap.Logger) actor.MeterActorProvider {
	return func() *adactor.MeterActor {
		return adactor.NewMeterActor(session, timeouts.Connect, timeouts.Read, logger)
	}
}

func acquisitionActorProvider(cfg *config.Config, timeouts actor.MeterTimeouts, m *metrics.Metrics, logger *zap.Logger) actor.AcquisitionActorProvider {
	return func(meterActor *pactor.PID, eventStream *eventstream.EventStream) *actor.AcquisitionActor {
		policy := &service.DefaultReconnectPolicy{
			MaxEmptyCycles: uint(cfg.ReconnectConfig.MaxEmptyCycles),
			RetryInterval:  cfg.ReconnectConfig.RetryInterval(),
			Logger:         logger,
		}
		return actor.NewAcquisitionActor(cfg, meterActor, eventStream, policy, m, timeouts, logger)
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(eventStream *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, eventStream, logger)
	}
}
