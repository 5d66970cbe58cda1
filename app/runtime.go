package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/clinicflow/config"
	coremetrics "github.com/kilianp07/clinicflow/core/metrics"
	"github.com/kilianp07/clinicflow/core/model"
	"github.com/kilianp07/clinicflow/core/monitoring"
	"github.com/kilianp07/clinicflow/infra/history"
	"github.com/kilianp07/clinicflow/infra/logger"
	"github.com/kilianp07/clinicflow/infra/metrics"
	infmon "github.com/kilianp07/clinicflow/infra/monitoring"
	"github.com/kilianp07/clinicflow/infra/mqtt"
)

// Runtime runs a Service as a long-lived process: it loads history, exposes
// metrics and bridges events and schedules over MQTT when configured.
type Runtime struct {
	Service *Service

	cfg     *config.Config
	log     logger.Logger
	monitor monitoring.Monitor
	history *model.HistoricalData
	store   *history.SQLiteStore
	client  *mqtt.Client
	bridge  *mqtt.Bridge
}

// NewRuntime wires every component described by cfg. Nothing runs until Run.
func NewRuntime(cfg *config.Config) (*Runtime, error) {
	if err := logger.Setup(cfg.Logging); err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	log := logger.New("runtime")
	r := &Runtime{cfg: cfg, log: log, monitor: monitoring.NopMonitor{}}

	if cfg.Sentry.DSN != "" {
		mon, err := infmon.NewSentryMonitor(cfg.Sentry)
		if err != nil {
			return nil, fmt.Errorf("sentry: %w", err)
		}
		r.monitor = mon
	}

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	opts := []Option{
		WithLogger(logger.New("scheduler")),
		WithParams(cfg.Scheduler),
		WithClinicHours(cfg.Clinic),
		WithEngineConfig(cfg.Engine),
		WithSeed(cfg.Simulation.Seed),
		WithScenarios(cfg.Simulation.Scenarios),
		WithMetricsSink(sink),
		WithMonitor(r.monitor),
	}
	switch cfg.History.Source {
	case config.HistoryFile:
		if r.history, err = history.LoadFile(cfg.History.Path); err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
	case config.HistorySQLite:
		if r.store, err = history.NewSQLiteStore(cfg.History.Path); err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		opts = append(opts, WithCompletionObserver(r.store))
	}
	r.Service = NewService(opts...)

	if cfg.MQTT.Enabled() {
		client, err := mqtt.NewClient(cfg.MQTT, logger.New("mqtt"), r.monitor)
		if err != nil {
			r.closeStore()
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
		bridge, err := mqtt.NewBridge(client, cfg.MQTT, cfg.Clinic.DoctorID, r.Service, r.Service.Bus(), logger.New("mqtt-bridge"))
		if err != nil {
			client.Disconnect()
			r.closeStore()
			return nil, fmt.Errorf("mqtt bridge: %w", err)
		}
		r.client, r.bridge = client, bridge
	}
	return r, nil
}

// Run initializes the service and blocks until ctx is canceled.
func (r *Runtime) Run(ctx context.Context) error {
	defer r.monitor.Recover()
	h := r.history
	if r.store != nil {
		loaded, err := r.store.Load(ctx)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		h = loaded
	}
	if err := r.Service.Initialize(ctx, h); err != nil {
		return err
	}
	if r.bridge != nil {
		if err := r.bridge.Start(ctx); err != nil {
			return fmt.Errorf("mqtt bridge: %w", err)
		}
	}
	if addr := r.cfg.Metrics.PrometheusAddr; addr != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, addr); err != nil {
				r.log.Errorf("prom server: %v", err)
			}
		}()
	}
	r.log.Infof("clinicflow running for doctor %s", r.cfg.Clinic.DoctorID)
	<-ctx.Done()
	return nil
}

// Close releases resources held by the runtime.
func (r *Runtime) Close() error {
	var errs []error
	if r.bridge != nil {
		r.bridge.Stop()
	}
	if r.client != nil {
		r.client.Disconnect()
	}
	if err := r.Service.Stop(); err != nil && !errors.Is(err, model.ErrNotInitialized) {
		errs = append(errs, err)
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.monitor.Flush(2 * time.Second)
	if err := logger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *Runtime) closeStore() {
	if r.store != nil {
		_ = r.store.Close()
	}
}
