// internal/session/runner.go
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/ColonelBlimp/hrvmeter/internal/dsp"
	"github.com/ColonelBlimp/hrvmeter/internal/hrv"
	"github.com/ColonelBlimp/hrvmeter/internal/source"
)

// ErrSourceRequired indicates Run was called without a sample source
var ErrSourceRequired = errors.New("sample source is required")

// SampleRecorder receives every raw sample with its filtered value.
// Non-finite samples are recorded with a NaN filtered value.
type SampleRecorder interface {
	Record(index int, raw, filtered float64) error
}

// Config holds configuration for a measurement run.
type Config struct {
	// Processor tunes the heart-rate core
	Processor hrv.Config
	// Realtime paces samples at Processor.SampleRate instead of as fast as possible (from config: realtime)
	Realtime bool
	// DispatchBuffer is the queue length towards the sinks
	DispatchBuffer int
	// Spectrum enables the spectral cross-check when non-nil
	Spectrum *dsp.Spectrum
	// Metrics counts samples and results when non-nil
	Metrics *Metrics
	// Recorder traces every sample when non-nil
	Recorder SampleRecorder
}

// Summary describes a finished run.
type Summary struct {
	hrv.Result
	// Samples is the number of raw samples consumed
	Samples int
	// Dropped is the number of non-finite samples rejected
	Dropped int
	// DroppedUpdates is the number of live BPM updates the sinks missed
	DroppedUpdates uint64
	// SpectralBPM is the dominant in-band frequency of the filtered signal
	SpectralBPM    float64
	HasSpectralBPM bool
	// Elapsed is the wall-clock duration of the run
	Elapsed time.Duration
}

// Runner feeds one source through a fresh processor per run and fans results
// out to its sinks.
type Runner struct {
	config Config
	sinks  []hrv.Observer
	logger *slog.Logger
}

// NewRunner validates the configuration. Sinks receive results on the dispatcher goroutine.
func NewRunner(cfg Config, logger *slog.Logger, sinks ...hrv.Observer) (*Runner, error) {
	if err := cfg.Processor.Validate(); err != nil {
		return nil, fmt.Errorf("processor config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	all := append([]hrv.Observer(nil), sinks...)
	if cfg.Metrics != nil {
		all = append(all, cfg.Metrics)
	}
	return &Runner{config: cfg, sinks: all, logger: logger}, nil
}

// Run consumes src until io.EOF and returns the session summary. Cancelling ctx
// abandons the session: the processor is reset, no result is delivered and
// ctx.Err() is returned.
func (r *Runner) Run(ctx context.Context, src source.Source) (Summary, error) {
	if src == nil {
		return Summary{}, ErrSourceRequired
	}

	dispatcher := NewDispatcher(r.config.DispatchBuffer, r.logger, r.sinks...)
	defer dispatcher.Close()

	proc, err := hrv.NewProcessor(r.config.Processor, dispatcher)
	if err != nil {
		return Summary{}, err
	}

	var tick <-chan time.Time
	if r.config.Realtime {
		period := time.Duration(float64(time.Second) / r.config.Processor.SampleRate)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		tick = ticker.C
	}

	start := time.Now()
	r.logger.Info("session started",
		slog.Float64("sample_rate", r.config.Processor.SampleRate),
		slog.Bool("realtime", r.config.Realtime))

	var count int
	for {
		if err := ctx.Err(); err != nil {
			return r.abandon(proc, count, err)
		}
		if tick != nil {
			select {
			case <-ctx.Done():
				return r.abandon(proc, count, ctx.Err())
			case <-tick:
			}
		}

		raw, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			proc.Reset()
			return Summary{Samples: count}, fmt.Errorf("sample %d: %w", count, err)
		}

		filtered := proc.Add(raw)
		if r.config.Metrics != nil {
			r.config.Metrics.ObserveSample(math.IsNaN(filtered))
		}
		if r.config.Recorder != nil {
			if err := r.config.Recorder.Record(count, raw, filtered); err != nil {
				proc.Reset()
				return Summary{Samples: count}, fmt.Errorf("record sample %d: %w", count, err)
			}
		}
		count++
	}

	summary := Summary{
		Samples: count,
		Dropped: proc.Dropped(),
	}
	if r.config.Spectrum != nil {
		summary.SpectralBPM, summary.HasSpectralBPM = r.config.Spectrum.DominantBPM(proc.Samples())
	}
	summary.Result = proc.Process()

	dispatcher.Close()
	summary.DroppedUpdates = dispatcher.Dropped()
	summary.Elapsed = time.Since(start)

	r.logger.Info("session complete",
		slog.Int("samples", summary.Samples),
		slog.Int("dropped", summary.Dropped),
		slog.Bool("valid", summary.Valid()),
		slog.Int("average_hr", summary.AverageHR),
		slog.Float64("rmssd_ms", summary.RMSSD),
		slog.Duration("elapsed", summary.Elapsed))

	return summary, nil
}

func (r *Runner) abandon(proc *hrv.Processor, count int, err error) (Summary, error) {
	proc.Reset()
	r.logger.Info("session cancelled", slog.Int("samples", count))
	return Summary{Samples: count}, err
}

// Config returns the current configuration
func (r *Runner) Config() Config {
	return r.config
}
