package cmd

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kilianp07/clinicflow/core/model"
	"github.com/kilianp07/clinicflow/core/simulator"
	"github.com/kilianp07/clinicflow/pkg/export"
	"github.com/kilianp07/clinicflow/pkg/roster"
)

var (
	simRoster    string
	simScenarios int
	simSeed      int64
	simTune      bool
	simChart     string
	simBins      int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Monte Carlo risk analysis of a roster's schedule",
	RunE:  runSimulate,
}

func init() {
	f := simulateCmd.Flags()
	f.StringVarP(&simRoster, "roster", "r", "", "roster YAML file")
	f.IntVarP(&simScenarios, "scenarios", "n", 0, "number of scenarios (default from config)")
	f.Int64Var(&simSeed, "seed", 0, "random seed (default from config)")
	f.BoolVar(&simTune, "tune", false, "also grid-search scheduler parameters")
	f.StringVar(&simChart, "chart", "", "write a delay histogram to this HTML file")
	f.IntVar(&simBins, "bins", 10, "histogram bins")
	_ = simulateCmd.MarkFlagRequired("roster")
	rootCmd.AddCommand(simulateCmd)
}

// SimulationReport is the JSON document printed by simulate.
type SimulationReport struct {
	DoctorID   string                      `json:"doctor_id"`
	Sequence   []string                    `json:"sequence"`
	Metrics    model.ScheduleMetrics       `json:"metrics"`
	Simulation *simulator.SimulationResult `json:"simulation"`
	Risk       simulator.RiskAnalysis      `json:"risk"`
	Tuning     *simulator.TuningResult     `json:"tuning,omitempty"`
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	r, err := roster.Load(simRoster)
	if err != nil {
		return err
	}
	seed := cfg.Simulation.Seed
	if cmd.Flags().Changed("seed") {
		seed = simSeed
	}
	p, err := planRoster(cmd.Context(), cfg, r, cmd.ErrOrStderr(), seed)
	if err != nil {
		return err
	}
	defer func() { _ = p.svc.Stop() }()

	res, err := p.svc.RunSimulation(p.schedule, nil, simScenarios)
	if err != nil {
		return err
	}
	report := SimulationReport{
		DoctorID:   p.schedule.DoctorID,
		Sequence:   p.schedule.IDs(),
		Metrics:    p.schedule.Metrics,
		Simulation: res,
		Risk:       simulator.AnalyzeRisk(p.schedule, res),
	}
	if simTune {
		if report.Tuning, err = p.svc.OptimizeParameters(nil, simScenarios); err != nil {
			return err
		}
	}
	if simChart != "" {
		html, err := export.DelayHistogramHTML(res, simBins)
		if err != nil {
			return err
		}
		if err := os.WriteFile(simChart, []byte(html), 0o644); err != nil {
			return err
		}
	}
	return writeReport(cmd.OutOrStdout(), report)
}

func writeReport(w io.Writer, report SimulationReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
