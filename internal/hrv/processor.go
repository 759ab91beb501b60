// internal/hrv/processor.go
package hrv

import (
	"errors"
	"math"

	"github.com/ColonelBlimp/hrvmeter/internal/dsp"
)

var (
	// ErrInvalidSampleRate indicates sampling rate must be positive
	ErrInvalidSampleRate = errors.New("sampling rate must be positive")
	// ErrInvalidPeakDistance indicates the refractory distance must be non-negative
	ErrInvalidPeakDistance = errors.New("minimum peak distance must be non-negative")
	// ErrInvalidIntervalBand indicates the plausible interval band must be positive and ordered
	ErrInvalidIntervalBand = errors.New("interval band must satisfy 0 <= min < max")
	// ErrInvalidPeakWindow indicates the live peak window must hold at least two peaks
	ErrInvalidPeakWindow = errors.New("live peak window must be at least 2")
	// ErrInvalidSessionIntervals indicates the session interval threshold must be non-negative
	ErrInvalidSessionIntervals = errors.New("minimum session intervals must be non-negative")
)

// Config holds the tuning constants for a measurement session.
// All values should come from the application config file.
type Config struct {
	// SampleRate is the frame rate of the intensity samples in Hz (from config: sampling_rate)
	SampleRate float64
	// MinPeakDistance is the refractory distance in frames; accepted peaks are
	// more than this far apart (from config: min_peak_distance)
	MinPeakDistance int
	// MinIntervalMs and MaxIntervalMs bound the plausible pulse interval, exclusive
	// (from config: min_interval_ms, max_interval_ms)
	MinIntervalMs float64
	MaxIntervalMs float64
	// LivePeakWindow is how many recent peaks feed the live BPM estimate (from config: live_peak_window)
	LivePeakWindow int
	// MinSessionIntervals is the cleaned interval count a session must exceed
	// to produce a result (from config: min_session_intervals)
	MinSessionIntervals int
}

// DefaultConfig returns the constants the heart-rate heuristics were tuned with.
func DefaultConfig() Config {
	return Config{
		SampleRate:          30,
		MinPeakDistance:     8,
		MinIntervalMs:       250,
		MaxIntervalMs:       1000,
		LivePeakWindow:      10,
		MinSessionIntervals: 10,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.SampleRate <= 0 || math.IsNaN(c.SampleRate) || math.IsInf(c.SampleRate, 0) {
		return ErrInvalidSampleRate
	}
	if c.MinPeakDistance < 0 {
		return ErrInvalidPeakDistance
	}
	if c.MinIntervalMs < 0 || c.MaxIntervalMs <= c.MinIntervalMs {
		return ErrInvalidIntervalBand
	}
	if c.LivePeakWindow < 2 {
		return ErrInvalidPeakWindow
	}
	if c.MinSessionIntervals < 0 {
		return ErrInvalidSessionIntervals
	}
	return nil
}

// Result is the outcome of a finished session. A value is only meaningful when its
// Has flag is set.
type Result struct {
	RMSSD        float64 // milliseconds
	HasRMSSD     bool
	AverageHR    int // beats per minute, truncated
	HasAverageHR bool
}

// Valid reports whether the session produced both values.
func (r Result) Valid() bool {
	return r.HasRMSSD && r.HasAverageHR
}

// Observer receives session output. Both methods are called synchronously from
// Add and Process; implementations that hand results to another goroutine must
// do so themselves.
type Observer interface {
	// OnBPMUpdate is called zero or more times per session
	OnBPMUpdate(bpm int)
	// OnSessionComplete is called exactly once per Process call
	OnSessionComplete(result Result)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	BPM      func(bpm int)
	Complete func(result Result)
}

func (o ObserverFuncs) OnBPMUpdate(bpm int) {
	if o.BPM != nil {
		o.BPM(bpm)
	}
}

func (o ObserverFuncs) OnSessionComplete(result Result) {
	if o.Complete != nil {
		o.Complete(result)
	}
}

// Processor accumulates filtered samples for one measurement session.
// It is not safe for concurrent use: Add, Process and Reset must be called from
// one goroutine, in sample order.
type Processor struct {
	config   Config
	filter   *dsp.Filter
	observer Observer

	samples []float64
	dropped int

	// Live peak state. Peak acceptance only looks back at the last accepted peak,
	// so the peaks of a prefix are a prefix of the peaks of the whole sequence and
	// can be extended one sample at a time.
	livePeaks []int
}

// NewProcessor creates a processor with its own bandpass filter. observer may be nil.
func NewProcessor(cfg Config, observer Observer) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Processor{
		config:   cfg,
		filter:   dsp.NewBandpass(),
		observer: observer,
	}, nil
}

// Add filters one raw intensity sample, stores it and updates the live BPM.
// It returns the filtered value. Non-finite samples are dropped and NaN is returned.
func (p *Processor) Add(value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		p.dropped++
		return math.NaN()
	}

	filtered := p.filter.Filter(value)
	p.samples = append(p.samples, filtered)

	p.extendLivePeaks()
	p.updateLiveBPM()

	return filtered
}

// extendLivePeaks examines the one index that became a peak candidate with the
// newest sample, its right neighbour now being known.
func (p *Processor) extendLivePeaks() {
	i := len(p.samples) - 2
	if i < 1 || !isLocalMax(p.samples, i) {
		return
	}
	if n := len(p.livePeaks); n > 0 && i-p.livePeaks[n-1] <= p.config.MinPeakDistance {
		return
	}
	p.livePeaks = append(p.livePeaks, i)
}

func (p *Processor) updateLiveBPM() {
	window := p.config.LivePeakWindow
	if len(p.livePeaks) < window {
		return
	}

	recent := p.livePeaks[len(p.livePeaks)-window:]
	intervals := CleanIntervals(
		PulseIntervals(recent, p.config.SampleRate),
		p.config.MinIntervalMs, p.config.MaxIntervalMs,
	)

	bpm, ok := HeartRate(intervals)
	if !ok {
		return
	}
	if p.observer != nil {
		p.observer.OnBPMUpdate(bpm)
	}
}

// Process analyses the whole session, delivers the result to the observer and
// returns it. The accumulated samples are left untouched.
func (p *Processor) Process() Result {
	result := p.analyse()
	if p.observer != nil {
		p.observer.OnSessionComplete(result)
	}
	return result
}

func (p *Processor) analyse() Result {
	peaks := DetectPeaks(p.samples, p.config.MinPeakDistance)
	intervals := CleanIntervals(
		PulseIntervals(peaks, p.config.SampleRate),
		p.config.MinIntervalMs, p.config.MaxIntervalMs,
	)
	if len(intervals) <= p.config.MinSessionIntervals {
		return Result{}
	}

	var result Result
	result.AverageHR, result.HasAverageHR = HeartRate(intervals)
	result.RMSSD, result.HasRMSSD = RMSSD(PairIntervals(intervals))
	return result
}

// Reset clears the session and the filter history.
func (p *Processor) Reset() {
	p.samples = p.samples[:0]
	p.livePeaks = p.livePeaks[:0]
	p.dropped = 0
	p.filter.Reset()
}

// Len returns the number of accumulated samples
func (p *Processor) Len() int {
	return len(p.samples)
}

// Samples returns a copy of the filtered samples
func (p *Processor) Samples() []float64 {
	return append([]float64(nil), p.samples...)
}

// Peaks returns a copy of the peaks detected so far
func (p *Processor) Peaks() []int {
	return append([]int(nil), p.livePeaks...)
}

// Dropped returns the number of non-finite samples rejected since the last reset
func (p *Processor) Dropped() int {
	return p.dropped
}

// Config returns the current configuration
func (p *Processor) Config() Config {
	return p.config
}
