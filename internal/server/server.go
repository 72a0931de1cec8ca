// Package server assembles Hive: storage, services, HTTP surface and the
// background loops, with one Run call owning the process lifecycle.
package server

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/colonyops/hive/internal/auth"
	"github.com/colonyops/hive/internal/bus"
	"github.com/colonyops/hive/internal/config"
	"github.com/colonyops/hive/internal/hivehttp"
	"github.com/colonyops/hive/internal/ingest"
	"github.com/colonyops/hive/internal/notebook"
	"github.com/colonyops/hive/internal/presence"
	"github.com/colonyops/hive/internal/ratelimit"
	"github.com/colonyops/hive/internal/scheduler"
	"github.com/colonyops/hive/internal/ssrf"
	"github.com/colonyops/hive/internal/store"
	"github.com/colonyops/hive/internal/store/pg"
	"github.com/colonyops/hive/internal/wake"
	"github.com/colonyops/hive/internal/webhook"
)

const (
	presenceSweepEvery  = time.Minute
	presenceIdleTTL     = 10 * time.Minute
	ratelimitSweepEvery = 5 * time.Minute
	shutdownGrace       = 10 * time.Second
)

// Server is the assembled Hive process.
type Server struct {
	cfg      *config.Config
	db       *sql.DB
	stores   *store.Stores
	auth     *auth.Service
	bus      *bus.Bus
	presence *presence.Tracker
	limiter  *ratelimit.Limiter
	sched    *scheduler.Scheduler
	notebook *notebook.Manager
	http     *http.Server
}

// New connects storage, runs migrations and wires every handler onto the
// mux. Migration failures log and continue so a half-upgraded schema can
// still be inspected through the API.
func New(cfg *config.Config) (*Server, error) {
	dsn := cfg.DSN()
	if err := pg.Migrate(dsn, cfg.MigrationsDir); err != nil {
		slog.Error("migrations failed; continuing with existing schema", "error", err)
	}
	db, err := pg.OpenDB(dsn)
	if err != nil {
		return nil, err
	}
	stores := pg.NewStores(db)

	s := build(cfg, stores)
	s.db = db
	return s, nil
}

// build wires services over any store implementation. Tests use it with the
// in-memory stores.
func build(cfg *config.Config, stores *store.Stores) *Server {
	b := bus.New()
	tracker := presence.NewTracker()
	limiter := ratelimit.New(ratelimit.DefaultRules())
	guard := ssrf.NewGuard(cfg.WebhookAllowedHosts)
	dispatcher := webhook.NewDispatcher(stores.Tokens, guard)

	authSvc := auth.New(stores.Users, stores.Tokens, stores.Invites, cfg.SuperuserToken, cfg.SuperuserName)
	ingestSvc := ingest.New(stores.Broadcast, b, dispatcher, time.Duration(cfg.BroadcastCooldownMinutes)*time.Minute)
	wakeSvc := wake.New(stores, tracker, cfg.BaseURL)
	sched := scheduler.New(stores.Recurring, stores.Swarm, b)
	nbManager := notebook.NewManager(stores.Notebook)
	nbWS := notebook.NewWSHandler(nbManager, stores.Notebook, authSvc)

	gate := &hivehttp.Gate{Auth: authSvc, Presence: tracker, Limiter: limiter}

	mux := http.NewServeMux()
	hivehttp.NewAuthHandler(gate, authSvc, stores, dispatcher).RegisterRoutes(mux)
	hivehttp.NewMailboxHandler(gate, stores.Messages, b, dispatcher).RegisterRoutes(mux)
	hivehttp.NewChatHandler(gate, stores.Chat, b, dispatcher).RegisterRoutes(mux)
	hivehttp.NewSwarmHandler(gate, stores, b, sched, guard).RegisterRoutes(mux)
	hivehttp.NewBroadcastHandler(gate, stores.Broadcast, ingestSvc).RegisterRoutes(mux)
	hivehttp.NewNotebookHandler(gate, stores.Notebook, nbManager, nbWS).RegisterRoutes(mux)
	hivehttp.NewGatewayHandler(gate, tracker, stores, wakeSvc).RegisterRoutes(mux)
	hivehttp.NewStreamHandler(gate, b, tracker, wakeSvc).RegisterRoutes(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &Server{
		cfg:      cfg,
		stores:   stores,
		auth:     authSvc,
		bus:      b,
		presence: tracker,
		limiter:  limiter,
		sched:    sched,
		notebook: nbManager,
		http: &http.Server{
			Addr:              cfg.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled, then drains connections and flushes
// pending notebook saves.
func (s *Server) Run(ctx context.Context) error {
	if err := s.auth.BootstrapSuperuser(ctx, s.cfg.SuperuserDisplayName); err != nil {
		return err
	}

	loopCtx, cancelLoops := context.WithCancel(ctx)
	defer cancelLoops()
	go s.sched.Run(loopCtx)
	go s.sweepLoop(loopCtx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("hive listening", "addr", s.cfg.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	err := s.http.Shutdown(shutdownCtx)

	s.notebook.Flush()
	if s.db != nil {
		if cerr := s.db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) sweepLoop(ctx context.Context) {
	presenceTicker := time.NewTicker(presenceSweepEvery)
	defer presenceTicker.Stop()
	limiterTicker := time.NewTicker(ratelimitSweepEvery)
	defer limiterTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-presenceTicker.C:
			s.presence.Sweep(presenceIdleTTL)
		case <-limiterTicker.C:
			if n := s.limiter.Sweep(); n > 0 {
				slog.Debug("rate limit windows swept", "count", n)
			}
		}
	}
}
