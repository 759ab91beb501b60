// cmd/analyze.go
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ColonelBlimp/hrvmeter/internal/config"
	"github.com/ColonelBlimp/hrvmeter/internal/source"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file.csv>",
	Short: "Measure a recorded session",
	Long: `Replays a CSV recording of brightness samples, one per row, through the processor and
prints the session heart rate and RMSSD. Blank lines and lines starting with '#' are ignored.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().IntP("column", "c", 0, "zero-based CSV column holding the sample")
	analyzeCmd.Flags().Bool("header", false, "skip the first row")
	analyzeCmd.Flags().Bool("realtime", false, "replay at the sampling rate")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	settings, err := config.Get()
	if err != nil {
		return err
	}

	src, err := source.OpenCSV(args[0], settings.CSVConfig())
	if err != nil {
		return err
	}
	defer src.Close()

	return runSession(cmd, settings, src, realtimeFlag(cmd))
}

// realtimeFlag prefers an explicit --realtime over the config file
func realtimeFlag(cmd *cobra.Command) bool {
	if f := cmd.Flags().Lookup("realtime"); f != nil && f.Changed {
		v, _ := cmd.Flags().GetBool("realtime")
		return v
	}
	return viper.GetBool("realtime")
}
