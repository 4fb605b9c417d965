package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/shelter-access/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "shelter-access",
	Short: "Evacuation shelter accessibility analysis",
	Long:  "Normalizes per-block-group shelter routes, aggregates travel times and population served per shelter, and renders accessibility maps.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
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
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		zap.L().Error("command failed", zap.Error(err))
		_ = zap.L().Sync()
		os.Exit(1)
	}
}
