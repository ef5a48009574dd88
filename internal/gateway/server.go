// Package gateway holds sockets open on behalf of project backends: it
// verifies connection tokens, runs one actor per socket, fans messages out
// through the broker, and notifies backends over signed webhooks.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/wosherco/socketless/internal/channel"
	"github.com/wosherco/socketless/internal/config"
	"github.com/wosherco/socketless/internal/metrics"
	"github.com/wosherco/socketless/internal/pubsub"
	"github.com/wosherco/socketless/internal/store"
	"github.com/wosherco/socketless/internal/token"
	"github.com/wosherco/socketless/internal/usage"
	"github.com/wosherco/socketless/internal/webhook"
)

// How many webhook deliveries may be in flight per node at once.
const maxInflightWebhooks = 64

// Store is the slice of the shared store the gateway needs.
type Store interface {
	CreateConnection(ctx context.Context, projectID int64, identifier, node string) (int64, error)
	DeleteConnection(ctx context.Context, id int64) error
}

// HealthChecker reports the liveness of one external dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps are the collaborators a Server is wired with.
type Deps struct {
	Store      Store
	Broker     pubsub.Broker
	Gate       *usage.Gate
	Projects   webhook.ConfigSource
	Dispatcher *webhook.Dispatcher
	Codec      *token.Codec
	Metrics    *metrics.Registry

	// Checks are probed by the health endpoint, keyed by dependency name.
	Checks map[string]HealthChecker
}

// Server is one gateway node.
type Server struct {
	cfg *config.Config
	log zerolog.Logger

	store      Store
	broker     pubsub.Broker
	gate       *usage.Gate
	projects   webhook.ConfigSource
	dispatcher *webhook.Dispatcher
	codec      *token.Codec
	metrics    *metrics.Registry
	checks     map[string]HealthChecker

	upgrader   websocket.Upgrader
	httpServer *http.Server

	conns sync.Map // clientID -> *Conn

	// Bounded concurrency for webhook side effects; failures land in the
	// structured log, never on the socket.
	dispatchSem chan struct{}

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	hbSub   pubsub.Subscription
}

// New wires a gateway node. It does not start listening; call Run.
func New(cfg *config.Config, deps Deps, log zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:        cfg,
		log:        log.With().Str("component", "gateway").Str("node", cfg.NodeName).Logger(),
		store:      deps.Store,
		broker:     deps.Broker,
		gate:       deps.Gate,
		projects:   deps.Projects,
		dispatcher: deps.Dispatcher,
		codec:      deps.Codec,
		metrics:    deps.Metrics,
		checks:     deps.Checks,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		dispatchSem: make(chan struct{}, maxInflightWebhooks),
		baseCtx:     ctx,
		cancel:      cancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", deps.Metrics.Handler())
	mux.HandleFunc("/", s.handleUpgrade)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Run starts the heartbeat responder and serves until ctx is cancelled or
// the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if err := s.startHeartbeatResponder(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info().Str("addr", s.cfg.Addr).Msg("gateway listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.Shutdown()
		return nil
	}
}

// startHeartbeatResponder answers the reaper's pings on this node's
// heartbeat channel. A node that stops answering gets its connection records
// deleted.
func (s *Server) startHeartbeatResponder() error {
	heartbeat := channel.NodeHeartbeat(s.cfg.NodeName)
	sub, err := s.broker.Subscribe(s.baseCtx, heartbeat)
	if err != nil {
		return err
	}
	s.hbSub = sub

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for msg := range sub.Messages() {
			if string(msg.Payload) != channel.HeartbeatPing {
				continue
			}
			if err := s.broker.Publish(s.baseCtx, heartbeat, []byte(channel.HeartbeatPong)); err != nil {
				s.log.Error().Err(err).Msg("heartbeat pong failed")
			}
		}
	}()

	return nil
}

// handleUpgrade serves GET /{token}: verify, admit, upgrade, start the
// actor. Requests without a verifiable token get 401 and no connection
// object is ever created.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	rawToken := strings.Trim(r.URL.Path, "/")
	if rawToken == "" {
		http.NotFound(w, r)
		return
	}

	claims, err := s.codec.Verify(rawToken)
	if err != nil {
		s.metrics.UpgradesRejected.Inc()
		s.log.Debug().Err(err).Msg("token rejected")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	cfg, err := s.projects.ProjectConfig(r.Context(), claims.ProjectID)
	if err != nil {
		s.metrics.UpgradesRejected.Inc()
		if errors.Is(err, store.ErrProjectNotFound) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		s.log.Error().Err(err).Int64("project_id", claims.ProjectID).Msg("project lookup failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	allowed, err := s.gate.CheckConnections(r.Context(), claims.ProjectID, cfg.MaxConnections)
	if err != nil {
		s.log.Error().Err(err).Msg("connection usage check failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if !allowed {
		s.metrics.UpgradesRejected.Inc()
		s.log.Info().Int64("project_id", claims.ProjectID).Msg("connection over plan limit, rejected")
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	clientID := claims.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.metrics.UpgradesRejected.Inc()
		s.log.Debug().Err(err).Msg("upgrade failed")
		return
	}

	conn := newConn(s, ws, claims.ProjectID, claims.Identifier, clientID, claims.Feeds, claims.Webhook)
	conn.start(s.baseCtx)
}

// handleHealth probes every wired dependency and reports the node's view:
// 200 while all dependencies answer, 503 once any of them fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count := 0
	s.conns.Range(func(_, _ any) bool {
		count++
		return true
	})

	status := "healthy"
	deps := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := check.Health(ctx)
		cancel()
		if err != nil {
			deps[name] = err.Error()
			status = "degraded"
			continue
		}
		deps[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]any{
		"status":       status,
		"node":         s.cfg.NodeName,
		"connections":  count,
		"dependencies": deps,
		"timestamp":    time.Now().Unix(),
	})
}

// Shutdown drains the node: the HTTP listener stops, then every live socket
// goes through its normal close path so records and counters are released.
func (s *Server) Shutdown() {
	s.log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Error().Err(err).Msg("http shutdown error")
	}

	s.conns.Range(func(_, v any) bool {
		v.(*Conn).close(websocket.CloseGoingAway, "server shutdown")
		return true
	})

	if s.hbSub != nil {
		_ = s.hbSub.Close()
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info().Msg("shutdown complete")
	case <-ctx.Done():
		s.log.Warn().Msg("shutdown timed out")
	}
}
