package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/seed"
)

func main() {
	companyID := flag.Int64("company", 1, "company to seed")
	flag.Parse()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	ctx := context.Background()

	if cfg.PGMigrate {
		if err := db.Migrate(cfg.PGDSN); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			os.Exit(1)
		}
	}
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	seeder := seed.NewSeeder(
		accounts.NewService(accounts.NewRepository(pool), nil, logger),
		mappings.NewRepository(pool),
		logger,
	)
	if _, err := seeder.Run(ctx, shared.Scope{CompanyID: *companyID}, seed.DefaultChart); err != nil {
		logger.Error("seed", slog.Any("error", err))
		pool.Close()
		os.Exit(1)
	}
}
