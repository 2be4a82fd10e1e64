package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/invoicing"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "jobs":
			if err := runJobs(ctx, cfg, os.Args[2:]); err != nil {
				logger.Error("jobs command", slog.Any("error", err))
				os.Exit(1)
			}
			return
		case "migrate":
			if err := runMigrate(cfg, os.Args[2:]); err != nil {
				logger.Error("migrate command", slog.Any("error", err))
				os.Exit(1)
			}
			logger.Info("migrations applied", slog.String("direction", os.Args[len(os.Args)-1]))
			return
		}
	}

	if err := serve(ctx, stop, cfg, logger); err != nil {
		logger.Error("server", slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	if cfg.PGMigrate {
		if err := db.Migrate(cfg.PGDSN); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	var redisClient *redis.Client
	if client, err := cache.New(ctx, cfg.RedisAddr); err != nil {
		logger.Warn("redis unavailable, account cache disabled", slog.Any("error", err))
	} else {
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}
	accountCache := cache.NewVersioned(redisClient, "ledger:accounts", cfg.AccountCacheTTL)
	if err := accountCache.ListenForInvalidation(ctx); err != nil {
		logger.Warn("account cache listener", slog.Any("error", err))
	}

	tx := db.NewTransactor(pool)
	ledger := app.NewLedger(app.PostgresDeps(tx, accountCache, cfg, logger))
	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		AccountsHandler: accounts.NewHandler(logger, ledger.Accounts),
		JournalsHandler: journals.NewHandler(logger, ledger.Journals, ledger.Executor).WithObserver(metrics),
		InvoiceHandler:  invoicing.NewHandler(logger, ledger.Invoices, ledger.Executor).WithObserver(metrics),
		JobHandler:      jobs.NewHandler(inspector, logger),
		Metrics:         metrics,
		Ready: func(r *http.Request) error {
			return pool.Ping(r.Context())
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("balance_mode", cfg.BalanceMode))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: odyssey jobs trigger <name> [-company id] | odyssey jobs stats")
	}
	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
	defer func() { _ = jobsCLI.Close() }()

	switch args[0] {
	case "trigger":
		fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
		companyID := fs.Int64("company", 0, "restrict the integrity check to one company")
		if len(args) < 2 {
			return fmt.Errorf("jobs trigger: name required, one of %v", cli.Triggerable())
		}
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		info, err := jobsCLI.Trigger(ctx, args[1], *companyID)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jobsCLI.InspectQueues(ctx)
		if err != nil {
			return err
		}
		for _, s := range stats {
			fmt.Printf("%-8s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
		}
	default:
		return fmt.Errorf("jobs: unknown command %q", args[0])
	}
	return nil
}

func runMigrate(cfg *app.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: odyssey migrate up|down")
	}
	switch args[0] {
	case "up":
		return db.Migrate(cfg.PGDSN)
	case "down":
		return db.MigrateDown(cfg.PGDSN)
	default:
		return fmt.Errorf("migrate: unknown direction %q", args[0])
	}
}
