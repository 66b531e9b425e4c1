package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/amanullahtanweer/speaker-recognizer/internal/history"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent segment uploads",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.History.Path == "" {
			return errors.New("history.path is not configured")
		}

		db, err := history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		repo := history.NewSQLiteRepo(db)
		records, err := repo.Recent(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FINALIZED\tSEGMENT\tSTATUS\tATTEMPTS\tMALE(s)\tFEMALE(s)\tERROR")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.2f\t%.2f\t%s\n",
				r.FinalizedAt.Local().Format("2006-01-02 15:04:05"),
				r.SegmentID, r.Status, r.Attempts, r.MaleSeconds, r.FemaleSeconds, r.Error)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		male, female, err := repo.Totals(cmd.Context())
		if err != nil {
			return err
		}
		if total := male + female; total > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "\nAll uploads: %.1f%% male, %.1f%% female (%.1fs attributed)\n",
				male/total*100, female/total*100, total)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of records to show")
	rootCmd.AddCommand(historyCmd)
}
