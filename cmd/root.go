package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/config"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/publish"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/runlog"
)

var (
	cfg        *config.Config
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "vertiport",
	Short: "Vertiport demand substrate builder",
	Long: "Loads service zones and census tracts, builds the zone/tract crosswalk and the tract neighbor graph, " +
		"normalizes raw origin-destination tables and merges them into a universal tract demand matrix.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./config.yaml)")
}

// initLedger opens the run ledger. It returns nil when runlog.path is empty.
func initLedger(ctx context.Context) (*runlog.Ledger, error) {
	if cfg.RunLog.Path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.RunLog.Path), 0o755); err != nil {
		return nil, eris.Wrapf(err, "cmd: create runlog dir for %s", cfg.RunLog.Path)
	}
	l, err := runlog.Open(cfg.RunLog.Path)
	if err != nil {
		return nil, err
	}
	if err := l.Migrate(ctx); err != nil {
		l.Close() //nolint:errcheck
		return nil, err
	}
	return l, nil
}

// initMirror returns the S3 mirror, or nil when no bucket is configured.
func initMirror(ctx context.Context) (publish.Mirror, error) {
	if cfg.Output.S3.Bucket == "" {
		return nil, nil
	}
	m, err := publish.NewS3Mirror(ctx, cfg.Output.S3)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
