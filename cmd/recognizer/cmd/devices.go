package cmd

import (
	"fmt"

	"github.com/amanullahtanweer/speaker-recognizer/internal/capture"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio input devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := capture.ListInputDevices()
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No input devices found")
			return nil
		}
		for _, d := range devices {
			marker := " "
			if d.IsDefault {
				marker = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %-40s %d ch  %.0f Hz\n", marker, d.Name, d.MaxInputChannels, d.DefaultSampleRate)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
