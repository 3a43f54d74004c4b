package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mbientlab/metabase/internal/config"
	"github.com/mbientlab/metabase/internal/core/port"
	"github.com/mbientlab/metabase/internal/importer"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"
)

// Backend is what the handlers read without going through the actors.
type Backend struct {
	Devices  port.DeviceStore
	Store    port.Store
	Importer *importer.Importer
	Events   *eventstream.EventStream
}

type Server struct {
	port        uint
	httpLog     bool
	rootContext *actor.RootContext
	masterActor *actor.PID
	backend     Backend
	hub         *Hub
	logger      *zap.Logger
}

func newServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID, backend Backend, logger *zap.Logger) *Server {
	logger = logger.With(zap.String("component", "http"))
	return &Server{
		port:        cfg.Port,
		rootContext: rootContext,
		masterActor: masterActor,
		httpLog:     cfg.HttpLog,
		backend:     backend,
		hub:         NewHub(backend.Events, logger),
		logger:      logger,
	}
}

// NewServer returns the HTTP server and the websocket hub feeding /ws. The
// hub runs until Close is called.
func NewServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID, backend Backend, logger *zap.Logger) (*http.Server, *Hub) {
	NewServer := newServer(cfg, rootContext, masterActor, backend, logger)
	go NewServer.hub.Run()

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server, NewServer.hub
}
