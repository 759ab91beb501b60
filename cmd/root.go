// cmd/root.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ColonelBlimp/hrvmeter/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "hrvmeter",
	Short: "Heart rate and HRV from camera PPG intensity samples",
	Long: `Estimates live heart rate and session heart-rate variability (RMSSD) from a stream
of per-frame brightness samples, as recorded by a phone camera pressed against a fingertip.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags (override config file)
	rootCmd.PersistentFlags().Float64P("rate", "r", 30, "sampling rate in frames per second")
	rootCmd.PersistentFlags().BoolP("debug", "D", false, "enable debug output")
	rootCmd.PersistentFlags().BoolP("live", "l", false, "print live BPM updates")
	rootCmd.PersistentFlags().String("nats", "", "NATS server URL to publish results to")
	rootCmd.PersistentFlags().String("metrics-addr", "", "listen address for the Prometheus /metrics endpoint")
	rootCmd.PersistentFlags().String("trace", "", "write index,raw,filtered per sample to this CSV file")

	rootCmd.AddCommand(analyzeCmd, simulateCmd, captureCmd)
}

// bindFlags binds flags to viper keys. Called on every initialisation so
// that the bindings survive viper.Reset.
func bindFlags() {
	pf := rootCmd.PersistentFlags()
	viper.BindPFlag("sampling_rate", pf.Lookup("rate"))
	viper.BindPFlag("debug", pf.Lookup("debug"))
	viper.BindPFlag("live", pf.Lookup("live"))
	viper.BindPFlag("nats_url", pf.Lookup("nats"))
	viper.BindPFlag("metrics_addr", pf.Lookup("metrics-addr"))
	viper.BindPFlag("trace_file", pf.Lookup("trace"))

	viper.BindPFlag("input_column", analyzeCmd.Flags().Lookup("column"))
	viper.BindPFlag("input_header", analyzeCmd.Flags().Lookup("header"))
	viper.BindPFlag("audio_device", captureCmd.Flags().Lookup("device"))
}

func initConfig() {
	bindFlags()
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
}
