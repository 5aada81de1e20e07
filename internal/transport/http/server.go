package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/snehjoshi/relayq/internal/broker"
	"github.com/snehjoshi/relayq/internal/config"
	"github.com/snehjoshi/relayq/internal/namespace"
)

// Server is the HTTP API front end for a Broker.
type Server struct {
	cfg  *config.Config
	log  *slog.Logger
	http *http.Server
	mux  *chi.Mux
}

// Option customises a Server.
type Option func(*serverOpts)

type serverOpts struct {
	ns *namespace.Registry
	ws http.Handler
}

// WithNamespaces enables the namespace management endpoints.
func WithNamespaces(ns *namespace.Registry) Option {
	return func(o *serverOpts) { o.ns = ns }
}

// WithWebSocket mounts a push-consumer handler at the queue /ws route.
func WithWebSocket(ws http.Handler) Option {
	return func(o *serverOpts) { o.ws = ws }
}

// NewServer builds the router and wraps it in an http.Server configured from
// cfg. Call ListenAndServe to start it.
func NewServer(cfg *config.Config, b *broker.Broker, log *slog.Logger, opts ...Option) *Server {
	var so serverOpts
	for _, opt := range opts {
		opt(&so)
	}

	h := &Handler{broker: b, ns: so.ns, start: time.Now()}

	maxBody := int64(cfg.Queue.MaxPayloadSizeKB)*1024 + 4096 // JSON envelope headroom

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(CORSMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(MaxBodyMiddleware(maxBody))
	r.Use(AuthMiddleware(cfg.Auth.APIKey, cfg.Auth.Enabled))
	r.Use(RateLimitMiddleware(float64(cfg.Producers.MaxRate), cfg.Producers.Burst))

	r.Get("/health", h.health)
	r.Get("/stats", h.stats)

	r.Route("/namespaces", func(r chi.Router) {
		r.Post("/", h.createNamespace)
		r.Get("/", h.listNamespaces)

		r.Route("/{ns}", func(r chi.Router) {
			r.Delete("/", h.deleteNamespace)
			r.Get("/queues", h.listQueues)

			r.Route("/queues/{name}", func(r chi.Router) {
				r.Post("/", h.createQueue)
				r.Delete("/", h.deleteQueue)
				r.Get("/stats", h.queueStats)

				r.Post("/records", h.publishRecord)
				r.Post("/consume", h.consumeRecord)
				r.Post("/records/{id}/ack", h.ackRecord)
				r.Post("/records/{id}/reject", h.rejectRecord)

				r.Get("/dlq", h.drainDLQ)
				r.Post("/dlq/replay", h.replayDLQ)
				r.Post("/dlq/{id}/ack", h.ackDLQRecord)
				r.Post("/dlq/{id}/reject", h.rejectDLQRecord)

				if so.ws != nil {
					r.Handle("/ws", so.ws)
				}
			})
		})
	})

	readTO, _ := config.ParseDuration(cfg.HTTP.ReadTimeout)
	writeTO, _ := config.ParseDuration(cfg.HTTP.WriteTimeout)

	return &Server{
		cfg: cfg,
		log: log,
		mux: r,
		http: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Node.Host, cfg.Node.Port),
			Handler:      r,
			ReadTimeout:  readTO,
			WriteTimeout: writeTO,
		},
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.http.Addr }

// ListenAndServe blocks serving requests until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.log.Info("http api listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	to, err := config.ParseDuration(s.cfg.HTTP.ShutdownTimeout)
	if err != nil || to <= 0 {
		to = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, to)
	defer cancel()
	return s.http.Shutdown(ctx)
}
