package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/amanullahtanweer/speaker-recognizer/internal/app"
	"github.com/spf13/cobra"
)

var noAutostart bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Record, upload and track the ratio until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := cfg.NewLogger(os.Stderr)
		if err != nil {
			return err
		}

		a, err := app.New(cfg, log)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err = a.Run(ctx, !noAutostart)
		fmt.Fprint(cmd.OutOrStdout(), "\n=== Session Metrics ===\n"+a.Metrics().Summary())
		if r, ok := a.Accumulator().Ratio(); ok {
			fmt.Fprintf(cmd.OutOrStdout(), "Ratio: %.1f%% male, %.1f%% female\n", r.Male*100, r.Female*100)
		}
		return err
	},
}

func init() {
	runCmd.Flags().BoolVar(&noAutostart, "no-autostart", false, "wait for POST /session/start instead of recording immediately")
	rootCmd.AddCommand(runCmd)
}
