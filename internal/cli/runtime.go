package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/example/adaptivestudy/internal/catalog"
	"github.com/example/adaptivestudy/internal/config"
	"github.com/example/adaptivestudy/internal/database"
	"github.com/example/adaptivestudy/internal/engine"
	"github.com/example/adaptivestudy/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

// runtime is the fully wired engine with its storage and telemetry
type runtime struct {
	db       *sqlx.DB
	learners *database.LearnerStateRepository
	events   *database.EventRepository
	sink     *telemetry.AsyncSink
	registry *prometheus.Registry
	engine   *engine.Engine
	logger   *zap.Logger
}

func openDB(cfg *config.Config) (*sqlx.DB, error) {
	return database.Connect(database.Options{
		Type: cfg.DBType,
		Path: cfg.DBPath,
		URL:  cfg.DatabaseURL,
	})
}

func openRuntime(ctx context.Context, a *app) (rt *runtime, err error) {
	db, err := openDB(a.cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()

	items, err := database.NewItemRepository(db).GetAll(ctx)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.New(items)
	if err != nil {
		return nil, err
	}
	ef, err := config.LoadEngineFile(a.cfg.EngineConfigPath)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(registry)

	events := database.NewEventRepository(db)
	sink := telemetry.NewAsyncSink(events, telemetry.SinkOptions{
		BufferSize: a.cfg.TelemetryBuffer,
		Logger:     a.logger,
		Metrics:    metrics,
	})
	learners := database.NewLearnerStateRepository(db)
	eng, err := engine.New(engine.Options{
		Repository: learners,
		Telemetry:  sink,
		Catalog:    cat,
		Blueprint:  ef.Blueprint,
		Policies:   ef.Policies,
		Logger:     a.logger,
		Metrics:    metrics,
	})
	if err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = sink.Close(closeCtx)
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	a.logger.Debug("Runtime ready",
		zap.Int("items", cat.Len()),
		zap.Strings("los", ef.Blueprint.LoIDs()))

	return &runtime{
		db:       db,
		learners: learners,
		events:   events,
		sink:     sink,
		registry: registry,
		engine:   eng,
		logger:   a.logger,
	}, nil
}

// Close flushes pending telemetry and closes the database
func (r *runtime) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := r.sink.Close(ctx); err != nil {
		r.logger.Warn("Telemetry not fully flushed", zap.Error(err))
	}
	return r.db.Close()
}
