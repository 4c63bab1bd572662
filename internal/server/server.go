package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/meterlink/internal/config"

	"github.com/asynkron/protoactor-go/actor"
	_ "github.com/joho/godotenv/autoload"
)

type Server struct {
	port           uint
	httpLog        bool
	requestTimeout time.Duration
	rootContext    *actor.RootContext
	masterActor    *actor.PID
	metrics        http.Handler
}

// NewServer exposes the master actor over HTTP. requestTimeout bounds the
// requests that reach the meter line; metrics may be nil.
func NewServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID, requestTimeout time.Duration, metrics http.Handler) *http.Server {
	NewServer := &Server{
		port:           cfg.Port,
		rootContext:    rootContext,
		masterActor:    masterActor,
		httpLog:        cfg.HttpLog,
		requestTimeout: requestTimeout,
		metrics:        metrics,
	}

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: NewServer.requestTimeout + 10*time.Second,
	}

	return server
}
