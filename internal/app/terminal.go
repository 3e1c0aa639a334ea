package app

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"parkgate/internal/config"
	"parkgate/internal/db"
	"parkgate/internal/fee"
	"parkgate/internal/journal"
	"parkgate/internal/link"
	"parkgate/internal/settlement"
	"parkgate/internal/store"
)

// TerminalApp wires the payment terminal: serial tag device, journal, store
// and the settlement engine looping over tag presentations.
type TerminalApp struct {
	engine *settlement.Engine
	db     *sql.DB
	link   *link.Link
	logger *zap.Logger
}

// NewTerminal builds the payment-terminal application graph.
func NewTerminal(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*TerminalApp, error) {
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

	sessions := store.NewSessionStore(pool)
	calc := fee.NewCalculator(cfg.Billing.RatePerHour)
	engine := settlement.New(lnk, jrnl, sessions, calc, logger)

	return &TerminalApp{
		engine: engine,
		db:     pool,
		link:   lnk,
		logger: logger,
	}, nil
}

// Run settles tag presentations until context cancellation. Settlement
// failures are already logged and classified by the engine; the loop only
// stops on transport-level errors or shutdown.
func (a *TerminalApp) Run(ctx context.Context) error {
	a.logger.Info("payment terminal ready")
	for {
		result, err := a.engine.SettleNext(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		if result.Outcome == settlement.OutcomeNoTag {
			continue
		}
		a.logger.Info("settlement attempt finished",
			zap.String("outcome", string(result.Outcome)),
			zap.String("plate", result.Plate),
		)
	}
}

// Close releases acquired resources.
func (a *TerminalApp) Close() {
	if a.link != nil {
		if err := a.link.Close(); err != nil {
			a.logger.Warn("failed to close serial link", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}
