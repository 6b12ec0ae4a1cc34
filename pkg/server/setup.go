// Package server wires the telemetry pipeline together and runs its
// background loops. All dependencies are constructed explicitly here and
// owned by the process entry point; there are no package-level globals.
package server

import (
	"fmt"
	"os"

	badgerdriver "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/villagegrid/telemetryd/pkg/badgerdb"
	"github.com/villagegrid/telemetryd/pkg/config"
	"github.com/villagegrid/telemetryd/pkg/ingest"
	"github.com/villagegrid/telemetryd/pkg/lifecycle"
	"github.com/villagegrid/telemetryd/pkg/query"
	"github.com/villagegrid/telemetryd/pkg/registry"
	registrybadger "github.com/villagegrid/telemetryd/pkg/registry/badger"
	"github.com/villagegrid/telemetryd/pkg/rollup"
	rollupbadger "github.com/villagegrid/telemetryd/pkg/rollup/badger"
	"github.com/villagegrid/telemetryd/pkg/server/monitor"
	"github.com/villagegrid/telemetryd/pkg/store"
	storebadger "github.com/villagegrid/telemetryd/pkg/store/badger"
)

// App holds the wired services, handlers and background workers.
type App struct {
	Config *config.Config
	Log    *zap.Logger
	DB     *badgerdriver.DB

	Readings store.Store
	Rollups  rollup.Store
	Registry *registry.Registry
	Engine   *rollup.Engine

	IngestService *ingest.Service
	QueryService  *query.Service
	Lifecycle     *lifecycle.Manager
	Hub           *ingest.Hub

	IngestHandler   *ingest.Handler
	QueryHandler    *query.Handler
	RegistryHandler *registry.Handler

	LifecycleMonitor *monitor.SweepMonitor
}

// Setup opens storage and wires every service. The caller owns the
// returned App and must Close it.
func Setup(cfg *config.Config, log *zap.Logger) (*App, error) {
	if !cfg.InMemory {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := badgerdb.Open(badgerdb.Config{
		Path:        cfg.DataDir,
		InMemory:    cfg.InMemory,
		MaxMemoryMB: cfg.MaxMemoryMB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Info("storage initialized",
		zap.String("data_dir", cfg.DataDir),
		zap.Bool("in_memory", cfg.InMemory))

	readings := storebadger.New(db, cfg.PartitionWidth)
	rollups := rollupbadger.New(db)
	devices := registrybadger.New(db)

	app := Assemble(cfg, log, readings, rollups, devices)
	app.DB = db
	return app, nil
}

// Assemble wires services over already-constructed storage backends.
// Tests use it with the in-memory backends.
func Assemble(cfg *config.Config, log *zap.Logger,
	readings store.Store, rollups rollup.Store, devices registry.DeviceStore) *App {

	engine := rollup.New(rollups, readings, cfg.RollupField, log.Named("rollup"))
	reg := registry.New(devices, readings, rollups,
		cfg.DeletePolicy, cfg.HeartbeatTimeout, log.Named("registry"))
	hub := ingest.NewHub(log.Named("ws"))

	ingestService := ingest.NewService(reg, readings, engine, hub, log.Named("ingest"))
	queryService := query.NewService(readings, engine)
	manager := lifecycle.New(readings, rollups, lifecycle.Config{
		CompressionAge:   cfg.CompressionAge,
		RetentionHorizon: cfg.RetentionHorizon,
		RollupRetention:  cfg.RollupRetention,
	}, log.Named("lifecycle"))

	return &App{
		Config:           cfg,
		Log:              log,
		Readings:         readings,
		Rollups:          rollups,
		Registry:         reg,
		Engine:           engine,
		IngestService:    ingestService,
		QueryService:     queryService,
		Lifecycle:        manager,
		Hub:              hub,
		IngestHandler:    ingest.NewHandler(ingestService),
		QueryHandler:     query.NewHandler(queryService),
		RegistryHandler:  registry.NewHandler(reg),
		LifecycleMonitor: &monitor.SweepMonitor{HealthyWindow: 2 * config.LifecycleInterval},
	}
}

// Close releases storage. Safe to call once after all workers stopped.
func (a *App) Close() error {
	if err := a.Readings.Close(); err != nil {
		return err
	}
	if err := a.Rollups.Close(); err != nil {
		return err
	}
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
