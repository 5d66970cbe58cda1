package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/kilianp07/clinicflow/app"
	"github.com/kilianp07/clinicflow/config"
	"github.com/kilianp07/clinicflow/core/model"
	"github.com/kilianp07/clinicflow/infra/history"
	"github.com/kilianp07/clinicflow/infra/logger"
	"github.com/kilianp07/clinicflow/pkg/roster"
)

// plan is a service loaded with one roster and its initial schedule.
type plan struct {
	svc      *app.Service
	schedule *model.OptimizedSchedule
}

// loadHistory resolves the configured history source. Mock history yields
// nil, which the service replaces with synthetic data.
func loadHistory(ctx context.Context, cfg config.HistoryConfig) (*model.HistoricalData, error) {
	switch cfg.Source {
	case config.HistoryFile:
		return history.LoadFile(cfg.Path)
	case config.HistorySQLite:
		return history.LoadSQLite(ctx, cfg.Path)
	}
	return nil, nil
}

// planRoster builds a service for r and produces its initial schedule. The
// service clock is frozen at the roster's planning time. Logs go to logOut.
func planRoster(ctx context.Context, cfg *config.Config, r *roster.Roster, logOut io.Writer, seed int64) (*plan, error) {
	now, err := r.CurrentTime()
	if err != nil {
		return nil, err
	}
	dc, err := r.DoctorConfig()
	if err != nil {
		return nil, err
	}
	h, err := loadHistory(ctx, cfg.History)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	lvl := zerolog.WarnLevel
	if cfg.Logging.Level != "" {
		if l, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
			lvl = l
		}
	}
	svc := app.NewService(
		app.WithLogger(logger.NewWithWriter(logOut, "scheduler", lvl)),
		app.WithParams(cfg.Scheduler),
		app.WithClinicHours(r.Clinic()),
		app.WithEngineConfig(cfg.Engine),
		app.WithSeed(seed),
		app.WithScenarios(cfg.Simulation.Scenarios),
		app.WithClock(func() time.Time { return now }),
	)
	if err := svc.Initialize(ctx, h); err != nil {
		return nil, err
	}
	sched, err := svc.OptimizeScheduleWithConfig(r.DoctorID, r.Patients(), now, dc)
	if err != nil {
		_ = svc.Stop()
		return nil, err
	}
	return &plan{svc: svc, schedule: sched}, nil
}
