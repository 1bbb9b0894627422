// Package factory wires the migration engine's components together from a
// configuration. It is the primary entry point for embedding the engine.
package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lychee-technology/formbase"
	"github.com/lychee-technology/formbase/internal"
)

// Engine aggregates the wired components of the migration engine.
type Engine struct {
	Pool         *pgxpool.Pool
	Translator   *internal.IdentifierTranslator
	Generator    *internal.SchemaGenerator
	Planner      *internal.MigrationPlanner
	Tables       *internal.TableManager
	Bindings     *internal.BindingStore
	Migrations   *internal.MigrationStore
	Backups      *internal.BackupRepository
	Executor     *internal.MigrationExecutor
	Orchestrator *internal.Orchestrator
	Sweeper      *internal.RetentionSweeper

	ownsPool bool
}

// NewEngine builds an engine and its connection pool from config.
//
// Usage:
//
//	cfg := formbase.DefaultConfig()
//	engine, err := factory.NewEngine(ctx, cfg)
//	if err != nil {
//	    // handle error
//	}
//	defer engine.Close()
func NewEngine(ctx context.Context, cfg *formbase.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password,
		cfg.Database.Host, cfg.Database.Port,
		cfg.Database.Database, cfg.Database.SSLMode)
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConnections)
	poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("verify database connection: %w", err)
	}

	engine, err := NewEngineWithPool(ctx, cfg, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	engine.ownsPool = true
	return engine, nil
}

// NewEngineWithPool builds an engine on top of an existing pool. The pool
// is not closed by Engine.Close.
func NewEngineWithPool(ctx context.Context, cfg *formbase.Config, pool *pgxpool.Pool) (*Engine, error) {
	gen := internal.NewSchemaGenerator()
	if err := internal.EnsureMetadataTables(ctx, pool, gen); err != nil {
		return nil, err
	}

	translator := buildTranslator(ctx, cfg.Translator)
	bindings := internal.NewBindingStore(pool)
	migrations := internal.NewMigrationStore(pool)

	var archiver internal.Archiver
	if cfg.Archive.Enabled {
		a, err := internal.NewS3Archiver(ctx, cfg.Archive)
		if err != nil {
			return nil, fmt.Errorf("build backup archiver: %w", err)
		}
		archiver = a
	}
	retention := time.Duration(cfg.Backup.RetentionDays) * 24 * time.Hour
	backups := internal.NewBackupRepository(pool, migrations, gen, retention, archiver)

	executor := internal.NewMigrationExecutor(pool, backups, migrations, gen,
		cfg.Migration.SampleLimit, cfg.Migration.LockTimeout)

	var notifier internal.Notifier
	if cfg.Notify.WebhookURL != "" {
		notifier = internal.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout)
	}
	orchestrator := internal.NewOrchestrator(ctx, internal.OrchestratorParams{
		Executor:        executor,
		Bindings:        bindings,
		Notifier:        notifier,
		MaxAttempts:     cfg.Migration.MaxAttempts,
		RetryBaseDelay:  cfg.Migration.RetryBaseDelay,
		RetryMaxDelay:   cfg.Migration.RetryMaxDelay,
		QueueCapacity:   cfg.Migration.QueueCapacity,
		BackupByDefault: cfg.Migration.BackupByDefault,
		ExecutedBy:      cfg.Migration.DefaultExecutedBy,
	})

	return &Engine{
		Pool:         pool,
		Translator:   translator,
		Generator:    gen,
		Planner:      internal.NewMigrationPlanner(),
		Tables:       internal.NewTableManager(pool, bindings, gen, translator),
		Bindings:     bindings,
		Migrations:   migrations,
		Backups:      backups,
		Executor:     executor,
		Orchestrator: orchestrator,
		Sweeper:      internal.NewRetentionSweeper(backups, cfg.Backup.SweepSchedule),
	}, nil
}

func buildTranslator(ctx context.Context, cfg formbase.TranslatorConfig) *internal.IdentifierTranslator {
	var provider internal.TranslationProvider
	if cfg.Endpoint != "" {
		breaker := internal.NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerWindow, cfg.BreakerOpenFor)
		client := internal.NewTranslateClient(cfg.Endpoint, cfg.SourceLang, cfg.TargetLang,
			cfg.Timeout, cfg.MaxRetries, breaker)
		probeCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		if err := client.Health(probeCtx); err != nil {
			zap.S().Warnw("translation provider unreachable at startup, labels will transliterate until it recovers",
				"endpoint", cfg.Endpoint, "error", err)
		}
		provider = client
	}
	return internal.NewIdentifierTranslator(provider, internal.NewMemoryIdentifierCache(), cfg.SourceLang,
		internal.WithSlugMaxLen(cfg.SlugMaxLen),
		internal.WithMaxIdentifierLen(cfg.MaxIdentifierLen))
}

// StartSweeper starts the scheduled retention sweep.
func (e *Engine) StartSweeper() error {
	return e.Sweeper.Start()
}

// Close drains the migration queue and releases resources.
func (e *Engine) Close() {
	e.Orchestrator.Close()
	e.Sweeper.Stop()
	if e.ownsPool {
		e.Pool.Close()
	}
}
