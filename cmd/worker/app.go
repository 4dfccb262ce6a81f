package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/clever-backtest/internal/backtest"
	"github.com/yourusername/clever-backtest/internal/config"
	"github.com/yourusername/clever-backtest/internal/database"
	"github.com/yourusername/clever-backtest/internal/datasource"
	"github.com/yourusername/clever-backtest/internal/jobs"
	"github.com/yourusername/clever-backtest/internal/logger"
	"github.com/yourusername/clever-backtest/internal/metrics"
	"github.com/yourusername/clever-backtest/internal/repository"
	"github.com/yourusername/clever-backtest/internal/webhook"
)

// app holds every long-lived dependency of the worker
type app struct {
	cfg        *config.Config
	log        *logrus.Logger
	redis      *redis.Client
	db         *database.DB
	repos      *repository.Repositories
	store      *jobs.RedisStore
	manager    *jobs.Manager
	signer     *webhook.Signer
	dispatcher *webhook.Dispatcher
}

func newLogger(cfg *config.Config) *logrus.Logger {
	return logger.New(logger.Options{
		Level:       cfg.App.LogLevel,
		Format:      cfg.Logging.Format,
		Environment: cfg.App.Environment,
		FilePath:    cfg.Logging.FilePath,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
		Compress:    cfg.Logging.Compress,
	})
}

func loadConfig(ctx context.Context, path string) (*config.Config, error) {
	cfg, err := config.LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := config.LoadSecretsFromAWS(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newApp connects to the job store and the optional database and assembles
// the job manager. Call close when done.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, log: newLogger(cfg)}
	metrics.InitRegistry()

	a.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	var err error
	a.store, err = jobs.NewRedisStore(a.redis, cfg.Redis.KeyPrefix, cfg.Jobs.TerminalTTL())
	if err != nil {
		a.close()
		return nil, err
	}

	if cfg.Database.Enabled {
		a.db, err = database.Initialize(ctx, cfg, a.log)
		if err != nil {
			a.close()
			return nil, err
		}
		a.repos, err = repository.NewRepositories(a.db)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	if err := a.buildManager(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) buildManager() error {
	var (
		lookup   jobs.ClientTierLookup
		postgres backtest.RaceSource
		opts     []jobs.Option
	)
	if a.repos != nil {
		lookup = a.repos.Clients
		postgres = a.repos.Races
		opts = append(opts, jobs.WithArchive(a.repos.Results))
	}

	configured, err := jobs.NewConfigTierSource(a.cfg, lookup)
	if err != nil {
		return err
	}
	tiers := jobs.NewCachedTierSource(configured, time.Duration(a.cfg.Jobs.TierCacheSeconds)*time.Second)

	source, err := datasource.NewFactory(a.cfg, postgres, a.log).NewRaceSource()
	if err != nil {
		return fmt.Errorf("failed to create race source: %w", err)
	}
	execCfg, err := backtest.FromConfig(&a.cfg.Backtest)
	if err != nil {
		return err
	}
	executor, err := backtest.NewExecutor(execCfg, source, a.log)
	if err != nil {
		return err
	}

	if a.cfg.Webhook.Secret != "" {
		a.signer, err = webhook.NewSigner(a.cfg.Webhook.Secret, a.cfg.Webhook.Tolerance())
		if err != nil {
			return err
		}
	} else if !a.cfg.IsDevelopment() {
		return fmt.Errorf("webhook.secret is required outside development")
	}

	if a.cfg.Webhook.WorkerURL != "" {
		a.dispatcher, err = webhook.NewDispatcher(webhook.DispatcherConfigFromConfig(a.cfg), a.signer, a.log)
		if err != nil {
			return err
		}
		opts = append(opts, jobs.WithDispatcher(a.dispatcher))
	} else {
		a.log.Warn("No worker URL configured, jobs rely on the lease sweeper only")
	}

	a.manager, err = jobs.NewManager(jobs.ManagerConfigFromConfig(a.cfg), a.store, tiers, executor, a.log, opts...)
	return err
}

func (a *app) close() {
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close dispatcher")
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close redis client")
		}
	}
}
