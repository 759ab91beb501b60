// cmd/simulate.go
package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/hrvmeter/internal/config"
	"github.com/ColonelBlimp/hrvmeter/internal/source"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Measure a synthetic pulse",
	Long: `Generates a PPG-like waveform with systolic and dicrotic peaks and measures it. Useful for
checking a deployment end to end without a camera.`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	defaults := source.DefaultSynthConfig()
	simulateCmd.Flags().Float64("bpm", defaults.BPM, "simulated heart rate")
	simulateCmd.Flags().Duration("duration", time.Minute, "session length (0 runs until interrupted)")
	simulateCmd.Flags().Float64("noise", 0, "standard deviation of additive noise")
	simulateCmd.Flags().Float64("jitter", 0, "standard deviation of beat-to-beat variation in ms")
	simulateCmd.Flags().Uint64("seed", 1, "random seed for noise and jitter")
	simulateCmd.Flags().Bool("realtime", false, "generate samples at the sampling rate")
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	settings, err := config.Get()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	cfg := source.DefaultSynthConfig()
	cfg.SampleRate = settings.SamplingRate
	cfg.BPM, _ = flags.GetFloat64("bpm")
	cfg.Noise, _ = flags.GetFloat64("noise")
	cfg.JitterMs, _ = flags.GetFloat64("jitter")
	cfg.Seed, _ = flags.GetUint64("seed")
	duration, _ := flags.GetDuration("duration")
	cfg.Samples = int(duration.Seconds() * settings.SamplingRate)

	synth, err := source.NewSynth(cfg)
	if err != nil {
		return err
	}

	return runSession(cmd, settings, synth, realtimeFlag(cmd))
}
