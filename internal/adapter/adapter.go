package adapter

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/unionfs/unionfs/internal/aggregator"
	"github.com/unionfs/unionfs/internal/config"
	"github.com/unionfs/unionfs/internal/fuse"
	"github.com/unionfs/unionfs/internal/hostfs"
	"github.com/unionfs/unionfs/internal/metrics"
	"github.com/unionfs/unionfs/internal/router"
	"github.com/unionfs/unionfs/pkg/api"
	"github.com/unionfs/unionfs/pkg/errors"
	"github.com/unionfs/unionfs/pkg/health"
	"github.com/unionfs/unionfs/pkg/status"
	"github.com/unionfs/unionfs/pkg/types"
	"github.com/unionfs/unionfs/pkg/utils"
)

// Adapter wires together the union filesystem's core components --
// router, aggregator, FUSE mount, metrics, health, and the monitoring
// API -- into the single lifecycle cmd/unionfs-mount drives.
type Adapter struct {
	sources    []*types.Source
	mountPoint string
	config     *config.Configuration

	hostFS     types.HostFS
	router     *router.Router
	aggregator *aggregator.Aggregator

	filesystem   *fuse.FS
	mountManager *fuse.MountManager
	watcher      *fuse.MountWatcher

	metricsCollector *metrics.Collector
	healthTracker    *health.Tracker
	statusTracker    *status.Tracker
	apiServer        *api.Server
	logger           *utils.StructuredLogger

	started   bool
	mountOpID string
}

// New validates sourcePaths and mountPoint against cfg and builds an
// Adapter ready to Start. It does not touch the filesystem beyond the
// validation config.Configuration.Validate already performs on cfg.
func New(sourcePaths []string, mountPoint string, cfg *config.Configuration) (*Adapter, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	cfg.Sources = sourcePaths
	cfg.Mount.Extra = mergeExtra(cfg.Mount.Extra)

	if err := cfg.Validate(); err != nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, err.Error()).
			WithComponent("adapter").WithOperation("New")
	}
	if mountPoint == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "mount point is required").
			WithComponent("adapter").WithOperation("New")
	}

	sources := make([]*types.Source, len(sourcePaths))
	for i, p := range sourcePaths {
		sources[i] = &types.Source{Path: p, Index: i}
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, err.Error()).
			WithComponent("adapter").WithOperation("New").WithCause(err)
	}

	hostFS := hostfs.OS{}
	rt := router.New(sources, hostFS)
	agg := aggregator.New(sources, hostFS)

	metricsCollector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Monitoring.Metrics.Enabled,
		Port:      cfg.Global.MetricsPort,
		Path:      "/metrics",
		Labels:    cfg.Monitoring.Metrics.CustomLabels,
		Namespace: "union",
		Subsystem: "fs",
	})
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, err.Error()).
			WithComponent("adapter").WithOperation("New").WithCause(err)
	}

	healthTracker := health.NewTracker(health.TrackerConfig{
		ErrorThreshold:       3,
		UnavailableThreshold: 10,
		RecoveryThreshold:    5,
		HealthCheckInterval:  cfg.Monitoring.HealthChecks.Interval,
		StateHistorySize:     100,
		EnableAutoRecovery:   true,
	})
	for _, src := range sources {
		healthTracker.RegisterComponent(src.Path)
	}
	healthTracker.RegisterComponent("balancer")
	rt.SetWriteHealthCheck(healthTracker.CanWrite)

	statusTracker := status.NewTracker(status.TrackerConfig{
		MaxHistorySize: 1000,
		HealthTracker:  healthTracker,
	})

	filesystem := fuse.New(sources, hostFS, mountPoint, cfg.Mount.ReadOnly, metricsCollector)
	mountManager := fuse.NewMountManager(filesystem, mountPoint, &cfg.Mount)

	apiServer := api.NewServer(api.ServerConfig{
		Address:       fmt.Sprintf(":%d", cfg.Global.HealthPort),
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
		IdleTimeout:   60 * time.Second,
		EnableCORS:    true,
		EnableMetrics: cfg.Monitoring.Metrics.Enabled,
	}, statusTracker, healthTracker, logger)

	return &Adapter{
		sources:          sources,
		mountPoint:       mountPoint,
		config:           cfg,
		hostFS:           hostFS,
		router:           rt,
		aggregator:       agg,
		filesystem:       filesystem,
		mountManager:     mountManager,
		metricsCollector: metricsCollector,
		healthTracker:    healthTracker,
		statusTracker:    statusTracker,
		apiServer:        apiServer,
		logger:           logger,
	}, nil
}

// newLogger builds the structured logger cfg.Global/cfg.Monitoring.Logging
// describe: level and destination from Global.LogLevel/LogFile, text vs.
// JSON framing and size/age-based rotation from Monitoring.Logging.
func newLogger(cfg *config.Configuration) (*utils.StructuredLogger, error) {
	level, err := utils.ParseLogLevel(cfg.Global.LogLevel)
	if err != nil {
		return nil, err
	}

	format := utils.FormatText
	if cfg.Monitoring.Logging.Format == "json" {
		format = utils.FormatJSON
	}

	loggerCfg := &utils.StructuredLoggerConfig{
		Level:         level,
		Output:        os.Stderr,
		Format:        format,
		IncludeCaller: true,
	}
	if cfg.Global.LogFile != "" {
		loggerCfg.Rotation = &utils.RotationConfig{
			Filename:   cfg.Global.LogFile,
			MaxSize:    100,
			MaxAge:     28,
			MaxBackups: 5,
			Compress:   true,
		}
	}

	logger, err := utils.NewStructuredLogger(loggerCfg)
	if err != nil {
		return nil, err
	}
	return logger.WithComponent("adapter"), nil
}

// Start runs the startup duplicate-name check, mounts the filesystem,
// and brings up the metrics, health-check, and monitoring API servers.
// Mounting is refused if any two sources share a top-level entry name.
// The whole mount lifecycle is tracked as one "mount" status.Operation,
// visible over the monitoring API at /status/operations until Stop
// completes or fails it.
func (a *Adapter) Start(ctx context.Context) error {
	if a.started {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "adapter is already started").
			WithComponent("adapter").WithOperation("Start")
	}

	op, _ := a.statusTracker.StartOperation(ctx, "mount", map[string]interface{}{
		"sources":     len(a.sources),
		"mount_point": a.mountPoint,
	})
	a.mountOpID = op.ID

	if err := a.aggregator.CheckDuplicates(); err != nil {
		_ = a.statusTracker.FailOperation(a.mountOpID, err)
		return err
	}

	if err := a.mountManager.Mount(ctx); err != nil {
		mountErr := errors.NewError(errors.ErrCodeMountFailed, err.Error()).
			WithComponent("adapter").WithOperation("Start").WithCause(err)
		_ = a.statusTracker.FailOperation(a.mountOpID, mountErr)
		return mountErr
	}

	a.watcher = fuse.NewMountWatcher(a.mountManager, a.config.Monitoring.HealthChecks.Interval)
	a.watcher.Start()

	if err := a.metricsCollector.Start(ctx); err != nil {
		a.logger.Warn("metrics collector failed to start", map[string]interface{}{"error": err.Error()})
	}

	if a.config.Monitoring.HealthChecks.Enabled {
		go a.healthTracker.StartHealthChecks(ctx, a.checkSource)
	}

	a.apiServer.StartBackground()

	a.started = true
	a.logger.Info("union filesystem started", map[string]interface{}{
		"sources":     len(a.sources),
		"mount_point": a.mountPoint,
	})
	return nil
}

// Stop unmounts the filesystem and shuts down the supporting servers in
// reverse order of startup. It is safe to call on a partially started
// Adapter; each component's own Stop/Shutdown is tolerant of not having
// been started.
func (a *Adapter) Stop(ctx context.Context) error {
	if !a.started {
		return errors.NewError(errors.ErrCodeNotInitialized, "adapter is not started").
			WithComponent("adapter").WithOperation("Stop")
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := a.apiServer.Shutdown(ctx); err != nil {
		record(fmt.Errorf("api server shutdown: %w", err))
	}

	if err := a.metricsCollector.Stop(ctx); err != nil {
		record(fmt.Errorf("metrics collector stop: %w", err))
	}

	if a.watcher != nil {
		a.watcher.Stop()
	}

	if a.mountManager.IsMounted() {
		if err := a.mountManager.Unmount(); err != nil {
			record(fmt.Errorf("unmount: %w", err))
		}
	}

	if firstErr != nil {
		_ = a.statusTracker.FailOperation(a.mountOpID, firstErr)
	} else {
		_ = a.statusTracker.CompleteOperation(a.mountOpID)
	}

	a.started = false
	a.logger.Info("union filesystem stopped", nil)
	return firstErr
}

// Wait blocks until the FUSE server stops serving, e.g. because the
// mount point was force-unmounted outside the adapter's control.
func (a *Adapter) Wait() {
	a.mountManager.Wait()
}

// Stats returns a snapshot of filesystem operation counters.
func (a *Adapter) Stats() *fuse.FilesystemStats {
	return a.mountManager.GetStats()
}

// MountOperation returns the tracked status.Operation for the current
// (or most recently completed) mount lifecycle, the same record served
// at /status/operations/{id} over the monitoring API.
func (a *Adapter) MountOperation() (*status.Operation, error) {
	return a.statusTracker.GetOperation(a.mountOpID)
}

// checkSource is the health.Tracker callback run on each registered
// component at every health-check tick. For a source path it reports
// whether the root directory is still readable; the balancer component
// has no independent liveness signal of its own, so it always reports
// healthy here.
func (a *Adapter) checkSource(component string) error {
	for _, src := range a.sources {
		if src.Path == component {
			_, err := a.hostFS.ReadDir(src.Path)
			return err
		}
	}
	return nil
}

func mergeExtra(extra map[string]string) map[string]string {
	if extra == nil {
		return make(map[string]string)
	}
	return extra
}
