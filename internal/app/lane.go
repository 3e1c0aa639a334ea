// Package app builds the dependency graph for each parkgate binary.
package app

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"parkgate/internal/cache"
	"parkgate/internal/config"
	"parkgate/internal/db"
	"parkgate/internal/journal"
	"parkgate/internal/lane"
	"parkgate/internal/link"
	"parkgate/internal/plate"
	"parkgate/internal/store"
	"parkgate/internal/web"
)

// LaneApp wires one gate lane: serial link, journal, session store and the
// candidate intake HTTP server.
type LaneApp struct {
	server *web.Server
	db     *sql.DB
	redis  *redis.Client
	link   *link.Link
	logger *zap.Logger
}

// NewLane builds the lane-agent application graph.
func NewLane(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*LaneApp, error) {
	if err := cfg.RequireDatabase(); err != nil {
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

	port, err := link.OpenPort(cfg.Link.Port, cfg.Link.BaudRate)
	if err != nil {
		pool.Close()
		return nil, err
	}
	lnk := link.New(port, link.Config{
		ReadTimeout:  cfg.LinkReadTimeout(),
		ReadyTimeout: cfg.LinkReadyTimeout(),
		WriteTimeout: cfg.LinkWriteTimeout(),
		GateDwell:    cfg.GateDwell(),
	}, logger)

	var (
		guard       cache.EntryGuard
		redisClient *redis.Client
	)
	if cfg.Redis.Addr != "" {
		redisClient, err = cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			lnk.Close()
			pool.Close()
			return nil, err
		}
		guard = cache.NewRedisEntryGuard(redisClient, cfg.EntryCooldown())
	} else {
		logger.Warn("redis not configured, using in-process entry cooldown")
		guard = cache.NewMemoryEntryGuard(cfg.EntryCooldown())
	}

	sessions := store.NewSessionStore(pool)
	voter := plate.NewVoter(cfg.VoteThreshold())
	l := lane.New(cfg.Lane.Direction, voter, guard, sessions, jrnl, lnk, logger)

	server := web.NewServer(cfg.LaneAddress(), lane.Routes(l, logger), logger)

	return &LaneApp{
		server: server,
		db:     pool,
		redis:  redisClient,
		link:   lnk,
		logger: logger,
	}, nil
}

// Run serves candidate intake until context cancellation.
func (a *LaneApp) Run(ctx context.Context) error {
	return a.server.Run(ctx)
}

// Close releases acquired resources.
func (a *LaneApp) Close() {
	if a.link != nil {
		if err := a.link.Close(); err != nil {
			a.logger.Warn("failed to close serial link", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}
