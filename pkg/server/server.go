// Package server implements the Parley matchmaking and relay server.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/parley/pkg/datastore"
	"github.com/NicolasHaas/parley/pkg/logging"
	"github.com/NicolasHaas/parley/pkg/translate"
)

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Cache and will Close() it on shutdown.
type Dependencies struct {
	Translator translate.Translator       // nil disables translation
	Cache      datastore.TranslationCache // optional, pruned by the run loop
	Logger     *slog.Logger               // slog.Default() when nil
	AfterFunc  AfterFunc                  // pairing timer, for tests
}

// Server is the main Parley server.
type Server struct {
	cfg        Config
	coord      *Coordinator
	metrics    *Metrics
	translator translate.Translator
	cache      datastore.TranslationCache
	log        *slog.Logger
	upgrader   websocket.Upgrader
	proc       processSampler

	httpSrv  *http.Server
	listener net.Listener
	serveErr chan error

	mu      sync.Mutex
	closing bool
	conns   sync.WaitGroup // websocket handlers

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	metrics := NewMetrics()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:        cfg,
		metrics:    metrics,
		translator: deps.Translator,
		cache:      deps.Cache,
		log:        log.With(logging.Component("server")),
		serveErr:   make(chan error, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.coord = NewCoordinator(CoordinatorOptions{
		Translator:   deps.Translator,
		PairingDelay: cfg.PairingDelay,
		SkipDetected: cfg.SkipDetected,
		Metrics:      metrics,
		Logger:       log,
		AfterFunc:    deps.AfterFunc,
	})
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the HTTP routes: /ws, /metrics and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

// Coordinator returns the session coordinator.
func (s *Server) Coordinator() *Coordinator {
	return s.coord
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Config returns the configuration the server was built with.
func (s *Server) Config() Config {
	return s.cfg
}
