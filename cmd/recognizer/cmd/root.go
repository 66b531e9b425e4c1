package cmd

import (
	"fmt"
	"os"

	"github.com/amanullahtanweer/speaker-recognizer/internal/config"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "recognizer",
	Short: "Continuous speaker gender-ratio recorder",
	Long: `recognizer records audio in fixed-length segments, uploads each
segment to a speaker analysis service and keeps a running ratio of
male to female speaking time.

Configuration is read from --config (YAML) and RECOGNIZER_* environment
variables, e.g. RECOGNIZER_UPLOAD_ENDPOINT.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

func printWarning(msg string, err error) {
	fmt.Fprintf(os.Stderr, "Warning: %s: %v\n", msg, err)
}
