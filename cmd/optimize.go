package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kilianp07/clinicflow/core/model"
	"github.com/kilianp07/clinicflow/pkg/export"
	"github.com/kilianp07/clinicflow/pkg/roster"
)

var (
	optRoster string
	optFormat string
	optOut    string
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Compute the queue order and timeline for a roster",
	RunE:  runOptimize,
}

func init() {
	optimizeCmd.Flags().StringVarP(&optRoster, "roster", "r", "", "roster YAML file")
	optimizeCmd.Flags().StringVarP(&optFormat, "format", "f", "json", "output format: json or csv")
	optimizeCmd.Flags().StringVarP(&optOut, "out", "o", "", "output file (default stdout)")
	_ = optimizeCmd.MarkFlagRequired("roster")
	rootCmd.AddCommand(optimizeCmd)
}

func runOptimize(cmd *cobra.Command, args []string) error {
	write, err := scheduleWriter(optFormat)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	r, err := roster.Load(optRoster)
	if err != nil {
		return err
	}
	p, err := planRoster(cmd.Context(), cfg, r, cmd.ErrOrStderr(), cfg.Simulation.Seed)
	if err != nil {
		return err
	}
	defer func() { _ = p.svc.Stop() }()

	return withOutput(cmd, optOut, func(w io.Writer) error {
		return write(w, p.schedule)
	})
}

func scheduleWriter(format string) (func(io.Writer, *model.OptimizedSchedule) error, error) {
	switch format {
	case "json":
		return export.WriteJSON, nil
	case "csv":
		return export.WriteCSV, nil
	}
	return nil, fmt.Errorf("unsupported format %q", format)
}

// withOutput calls fn with path opened for writing, or stdout when empty.
func withOutput(cmd *cobra.Command, path string, fn func(io.Writer) error) error {
	if path == "" {
		return fn(cmd.OutOrStdout())
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
