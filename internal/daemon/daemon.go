package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgeorchestra/orchestrator/internal/api"
	"github.com/edgeorchestra/orchestrator/internal/domain"
	"github.com/edgeorchestra/orchestrator/internal/health"
	"github.com/edgeorchestra/orchestrator/internal/infra/aggregator"
	"github.com/edgeorchestra/orchestrator/internal/infra/catalog"
	"github.com/edgeorchestra/orchestrator/internal/infra/coordinator"
	"github.com/edgeorchestra/orchestrator/internal/infra/eligibility"
	"github.com/edgeorchestra/orchestrator/internal/infra/healing"
	"github.com/edgeorchestra/orchestrator/internal/infra/liveness"
	_ "github.com/edgeorchestra/orchestrator/internal/infra/metrics" // register Prometheus metrics
	"github.com/edgeorchestra/orchestrator/internal/infra/registry"
	"github.com/edgeorchestra/orchestrator/internal/infra/sqlite"
	"github.com/edgeorchestra/orchestrator/internal/infra/sweeper"
	"github.com/edgeorchestra/orchestrator/internal/rpc"
	"github.com/edgeorchestra/orchestrator/internal/security"
)

// Daemon is the orchestrator's control-plane runtime. It wires storage,
// the round coordinator, the device registry, and their background
// loops behind two HTTP servers: the read-only sidecar (internal/api)
// and the device-facing RPC surface (internal/rpc).
type Daemon struct {
	Config Config
	DB     *sqlite.DB
	Server *api.Server
	RPC    *rpc.Server

	Registry    *registry.Service
	Liveness    *liveness.Store
	Sweeper     *sweeper.Sweeper
	Catalog     *catalog.Catalog
	Aggregator  *aggregator.Aggregator
	Quarantine  *healing.QuarantineManager
	Coordinator *coordinator.Coordinator
	Health      *health.Checker
	Keypair     *security.Keypair

	log    *slog.Logger
	cancel context.CancelFunc
}

// New creates and initializes a Daemon using configuration loaded from
// disk (or defaults if none exists).
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	log := slog.Default()
	clock := domain.SystemClock{}

	db, err := sqlite.Open(cfg.Node.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	kp, err := security.LoadOrCreateKeypair(cfg.Node.DataDir)
	if err != nil {
		log.Warn("failed to load keypair, node identity unavailable", "err", err)
	}

	reg := registry.New(db, clock)

	missWindow := time.Duration(cfg.Device.HeartbeatIntervalSeconds) * time.Second * time.Duration(cfg.Device.MissThreshold)
	live := liveness.New(missWindow, log.With("component", "liveness"))

	sweep := sweeper.New(
		live,
		reg,
		clock,
		time.Duration(cfg.Device.SweepIntervalSeconds)*time.Second,
		missWindow,
		log.With("component", "sweeper"),
	)

	cat := catalog.New()
	agg := aggregator.New()
	quarantine := healing.NewQuarantineManager(healing.DefaultQuarantineConfig())

	// The selector needs to ask the coordinator which devices are
	// already assigned to an open round, and the coordinator needs a
	// selector to hand it devices — wire the coordinator reference in
	// lazily, since both sides are only ever called after New returns.
	var coord *coordinator.Coordinator
	selector := eligibility.New(reg, live, assignedFunc(func(deviceID string) bool {
		if coord == nil {
			return false
		}
		return coord.IsAssigned(deviceID)
	}), quarantine, clock)

	coordCfg := coordinator.DefaultConfig()
	coordCfg.RoundTimeout = time.Duration(cfg.Round.TimeoutSeconds) * time.Second
	coordCfg.Grace = time.Duration(cfg.Round.GraceSeconds) * time.Second
	coordCfg.SelectionBackoff = time.Duration(cfg.Selection.BackoffSeconds) * time.Second
	coordCfg.SelectionMaxAttempts = cfg.Selection.MaxAttempts
	coordCfg.RoundMaxRetries = cfg.Round.MaxRetries

	coord = coordinator.New(db, db, agg, selector, quarantine, cat, clock, coordCfg, log.With("component", "coordinator"))

	checker := health.NewChecker(db)

	srv := api.NewServer(db, reg, checker)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}

	rpcSrv := rpc.New(reg, live, coord, db, coord, clock, cfg.Blob.ChunkSizeBytes)

	return &Daemon{
		Config:      cfg,
		DB:          db,
		Server:      srv,
		RPC:         rpcSrv,
		Registry:    reg,
		Liveness:    live,
		Sweeper:     sweep,
		Catalog:     cat,
		Aggregator:  agg,
		Quarantine:  quarantine,
		Coordinator: coord,
		Health:      checker,
		Keypair:     kp,
		log:         log,
	}, nil
}

// Serve starts the HTTP sidecar, the RPC server, and the background
// loops, and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Health.Run(ctx)
	go d.Sweeper.Run(ctx)
	go d.runCoordinatorTicks(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	rpcAddr := fmt.Sprintf("%s:%d", d.Config.RPC.Host, d.Config.RPC.Port)
	rpcServer := &http.Server{
		Addr:         rpcAddr,
		Handler:      d.RPC.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // model chunk streaming can be long
		IdleTimeout:  2 * time.Minute,
	}
	go func() {
		if err := rpcServer.ListenAndServe(); err != http.ErrServerClosed {
			d.log.Error("rpc server stopped", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		_ = rpcServer.Shutdown(shutdownCtx)
		_ = httpServer.Shutdown(shutdownCtx)
		_ = d.DB.Close()
	}()

	d.log.Info("edgeorchestra serving", "addr", addr, "rpc_addr", rpcAddr, "prometheus", d.Config.Telemetry.Prometheus)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down all daemon resources without waiting for a signal.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}

// runCoordinatorTicks drives the round state machine on a fixed
// interval, independent of the HTTP request path.
func (d *Daemon) runCoordinatorTicks(ctx context.Context) {
	interval := time.Duration(d.Config.Device.HeartbeatIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Coordinator.Tick(ctx, time.Now())
		}
	}
}

// assignedFunc adapts a plain func to eligibility.AssignmentTracker.
type assignedFunc func(deviceID string) bool

func (f assignedFunc) IsAssigned(deviceID string) bool { return f(deviceID) }
