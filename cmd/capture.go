// cmd/capture.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/hrvmeter/internal/audio"
	"github.com/ColonelBlimp/hrvmeter/internal/config"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Measure a pulse sensor on the sound card input",
	Long: `Reads an analog pulse sensor connected to an audio input. The RMS of each block of audio
frames becomes one intensity sample at the configured sampling rate. The session ends
after --duration; interrupting it discards the measurement.`,
	Args: cobra.NoArgs,
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().IntP("device", "d", -1, "audio device index (-1 for default)")
	captureCmd.Flags().Duration("duration", time.Minute, "session length")
	captureCmd.Flags().Bool("list", false, "list capture devices and exit")
}

func runCapture(cmd *cobra.Command, _ []string) error {
	settings, err := config.Get()
	if err != nil {
		return err
	}

	capture, err := audio.New(settings.AudioConfig())
	if err != nil {
		return err
	}
	if err := capture.Init(); err != nil {
		return err
	}
	defer capture.Close()

	if list, _ := cmd.Flags().GetBool("list"); list {
		devices, err := capture.ListDevices()
		if err != nil {
			return err
		}
		for i, d := range devices {
			fmt.Fprintf(cmd.OutOrStdout(), "[%d] %s\n", i, d.Name())
		}
		return nil
	}

	duration, _ := cmd.Flags().GetDuration("duration")
	if duration <= 0 {
		return fmt.Errorf("duration must be positive, got %v", duration)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), duration)
	defer cancel()

	if err := capture.Start(ctx); err != nil {
		return err
	}
	return runSession(cmd, settings, capture, false)
}
