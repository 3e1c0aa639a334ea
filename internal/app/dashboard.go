package app

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"parkgate/internal/auth"
	"parkgate/internal/config"
	"parkgate/internal/dashboard"
	"parkgate/internal/dashboard/live"
	"parkgate/internal/db"
	"parkgate/internal/fee"
	"parkgate/internal/journal"
	"parkgate/internal/models"
	"parkgate/internal/reconcile"
	"parkgate/internal/store"
	"parkgate/internal/web"
)

// DashboardApp wires the operator dashboard: HTTP API, websocket live feed
// and the periodic journal reconciler.
type DashboardApp struct {
	server     *web.Server
	db         *sql.DB
	reconciler *reconcile.Reconciler
	hub        *live.Hub
	sessions   *store.SessionStore
	cfg        *config.Config
	logger     *zap.Logger
}

// NewDashboard builds the dashboard application graph.
func NewDashboard(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*DashboardApp, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	if err := cfg.RequireDashboardAuth(); err != nil {
		return nil, err
	}

	pool, err := db.NewPostgres(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	jrnl, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		pool.Close()
		return nil, err
	}

	sessions := store.NewSessionStore(pool)
	aggregates := store.NewAggregateStore(pool)
	operators := store.NewOperatorStore(pool)

	hasher := auth.NewBcryptHasher(bcrypt.DefaultCost)
	if cfg.Dashboard.AdminUsername != "" && cfg.Dashboard.AdminPassword != "" {
		hash, err := hasher.Hash(cfg.Dashboard.AdminPassword)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := operators.EnsureAdmin(ctx, cfg.Dashboard.AdminUsername, hash); err != nil {
			pool.Close()
			return nil, err
		}
	}

	calc := fee.NewCalculator(cfg.Billing.RatePerHour)
	reconciler := reconcile.New(jrnl, sessions, aggregates, calc, logger)
	tokens := auth.NewTokenService(cfg.Dashboard.JWTSecret, cfg.TokenTTL())
	hub := live.NewHub(cfg.LiveWriteTimeout(), logger)

	routes := dashboard.Routes{
		Login:     dashboard.NewLoginHandler(operators, hasher, tokens, logger),
		Stats:     dashboard.NewStatsHandler(reconciler, logger),
		Recent:    dashboard.NewRecentSessionsHandler(sessions, logger),
		Reconcile: dashboard.NewReconcileHandler(reconciler, logger),
		Live:      hub.HandleWS,
		Health:    dashboard.NewHealthHandler(),
		Auth:      dashboard.RequireAuth(tokens),
	}
	server := web.NewServer(cfg.DashboardAddress(), dashboard.NewRouter(routes), logger)

	return &DashboardApp{
		server:     server,
		db:         pool,
		reconciler: reconciler,
		hub:        hub,
		sessions:   sessions,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Run serves the API and keeps the reconciler and live feed running until
// context cancellation.
func (a *DashboardApp) Run(ctx context.Context) error {
	go a.reconciler.Run(ctx, a.cfg.ReconcileInterval())
	go a.feedLive(ctx)
	return a.server.Run(ctx)
}

type liveSnapshot struct {
	Stats     models.DailyAggregate `json:"stats"`
	Recent    []models.Session      `json:"recent"`
	Timestamp time.Time             `json:"timestamp"`
}

// feedLive pushes a fresh snapshot to connected dashboards on a fixed cadence.
// The refresh is skipped entirely while nobody is connected.
func (a *DashboardApp) feedLive(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.LiveRefresh())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if a.hub.ClientCount() == 0 {
			continue
		}

		today := time.Now().Format(models.DateLayout)
		stats, err := a.reconciler.RecomputeDay(ctx, today)
		if err != nil {
			a.logger.Error("live stats refresh failed", zap.Error(err))
			continue
		}
		recent, err := a.sessions.RecentSessions(ctx, 10)
		if err != nil {
			a.logger.Error("live sessions refresh failed", zap.Error(err))
			continue
		}
		a.hub.Broadcast(liveSnapshot{
			Stats:     stats,
			Recent:    recent,
			Timestamp: time.Now(),
		})
	}
}

// Close releases acquired resources.
func (a *DashboardApp) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}
