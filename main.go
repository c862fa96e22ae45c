package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"codebattle/internal/api"
	"codebattle/internal/battle"
	"codebattle/internal/judge"
	"codebattle/internal/realtime"
	"codebattle/internal/repository"
	"codebattle/internal/repository/memory"
	"codebattle/internal/repository/mongodb"
	"codebattle/internal/scheduler"
	"codebattle/internal/service"
	"codebattle/internal/storage"
	"codebattle/internal/utils"
	"codebattle/pkg/config"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("failed to load .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		AddSource:  cfg.AddSource,
		TimeFormat: time.DateTime,
	}))
}

// openRepositories connects the configured storage driver. The returned
// function releases the connection.
func openRepositories(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*repository.Repositories, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		db, err := storage.NewPostgresDB(cfg.DB.Host, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.Port, cfg.DB.SSLMode, cfg.DB.TimeZone)
		if err != nil {
			return nil, nil, err
		}
		if err := db.AutoMigrate(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to auto migrate database: %w", err)
		}
		logger.Info("connected to postgres", "host", cfg.DB.Host, "db", cfg.DB.Name)
		return repository.NewRepositories(db), func() { db.Close() }, nil

	case "mongo":
		db, err := storage.NewMongoDB(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.TLS)
		if err != nil {
			return nil, nil, err
		}
		if err := db.EnsureIndexes(ctx); err != nil {
			db.Close(context.Background())
			return nil, nil, fmt.Errorf("failed to create mongo indexes: %w", err)
		}
		logger.Info("connected to mongodb", "db", cfg.Mongo.Database)
		closeFn := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			db.Close(ctx)
		}
		return mongodb.NewRepositories(db), closeFn, nil

	default:
		logger.Warn("using in-memory storage, data is lost on restart")
		return memory.NewRepositories(), func() {}, nil
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repos, closeStore, err := openRepositories(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStore()

	loc, err := cfg.Daily.Location()
	if err != nil {
		return err
	}

	judgeClient := judge.NewClient(judge.Config{
		BaseURL:     cfg.Judge.BaseURL,
		UserAgent:   cfg.Judge.UserAgent,
		Timeout:     cfg.Judge.Timeout,
		CatalogTTL:  cfg.Judge.CatalogTTL,
		StatusCount: cfg.Judge.StatusCount,
	}, logger)

	tokens := utils.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	services := service.NewServices(repos, judgeClient, tokens, service.Options{
		Points: service.Points{Win: cfg.Scoring.Win, Loss: cfg.Scoring.Loss, Draw: cfg.Scoring.Draw},
		Daily: service.DailyConfig{
			Location:     loc,
			LookbackDays: cfg.Daily.LookbackDays,
			Concurrency:  cfg.Daily.Concurrency,
		},
		Location: loc,
	}, logger)

	// The hub and the coordinator refer to each other: the hub is the
	// coordinator's notifier and forwards client events back to it.
	hub := realtime.NewHub(realtime.DefaultConfig(), logger)
	coord := battle.NewCoordinator(battle.Config{
		GracePeriod:  cfg.Battle.GracePeriod,
		TickInterval: cfg.Battle.TickInterval,
		PollInterval: cfg.Battle.PollInterval,
		DurationUnit: cfg.Battle.DurationUnit,
		JudgeTimeout: cfg.Battle.JudgeTimeout,
		StoreTimeout: cfg.Battle.StoreTimeout,
	}, services.Room, judgeClient, services.Ledger, hub, logger)
	hub.Attach(coord)

	if n, err := coord.Recover(ctx); err != nil {
		logger.Error("failed to recover rooms", "error", err)
	} else if n > 0 {
		logger.Info("recovered rooms", "count", n)
	}

	jobs, err := scheduler.New(scheduler.Config{
		VerifySchedule:    cfg.Daily.VerifySchedule,
		GenerateSchedule:  cfg.Daily.GenerateSchedule,
		ReconcileSchedule: cfg.Battle.ReconcileSchedule,
		InitialDelay:      cfg.Daily.InitialDelay,
		Location:          loc,
	}, services.Daily, coord, logger)
	if err != nil {
		return err
	}
	jobs.Start()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	api.SetupRoutes(r, api.Deps{
		Services:       services,
		Coordinator:    coord,
		Hub:            hub,
		Tokens:         tokens,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "address", cfg.Server.Address, "storage", cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to run server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	// Hijacked websocket connections are not closed by srv.Shutdown.
	hub.Shutdown()
	if err := jobs.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
	}
	if err := coord.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("battle shutdown: %w", err))
	}
	return errors.Join(errs...)
}
