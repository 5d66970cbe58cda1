package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/clinicflow/api"
	"github.com/kilianp07/clinicflow/app"
	"github.com/kilianp07/clinicflow/config"
	"github.com/kilianp07/clinicflow/infra/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "clinicflow",
	Short: "Real-time appointment queue optimizer",
	Long: "Runs the scheduling service for one doctor. Events arrive over MQTT, " +
		"schedules are published back and metrics are exported when configured.",
	RunE:         run,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	rt, err := app.NewRuntime(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.New("main").Errorf("runtime close: %v", err)
		}
	}()
	if cfg.API.Addr != "" {
		go func() {
			if err := api.Serve(ctx, cfg.API.Addr, api.NewHandler(rt.Service, cfg.API.Token)); err != nil {
				logger.New("api").Errorf("api server: %v", err)
			}
		}()
	}
	return rt.Run(ctx)
}

// loadConfig reads --config. A missing default file falls back to the
// built-in configuration; an explicit path must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err == nil {
		return cfg, nil
	}
	if !cmd.Flags().Changed("config") && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, fmt.Errorf("load config: %w", err)
}
