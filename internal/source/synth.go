// internal/source/synth.go
package source

import (
	"errors"
	"io"
	"math"
	"math/rand/v2"
)

var (
	// ErrInvalidSynthRate indicates sample rate must be positive
	ErrInvalidSynthRate = errors.New("synthetic sample rate must be positive")
	// ErrInvalidSynthBPM indicates heart rate must be positive
	ErrInvalidSynthBPM = errors.New("synthetic heart rate must be positive")
	// ErrInvalidSynthWidth indicates pulse width must be positive
	ErrInvalidSynthWidth = errors.New("synthetic pulse width must be positive")
	// ErrInvalidSynthLength indicates the sample count must be non-negative
	ErrInvalidSynthLength = errors.New("synthetic sample count must be non-negative")
)

// Pulse shape, as a fraction of one cardiac cycle
const (
	systolicPhase = 0.2
	dicroticPhase = 0.7
)

// SynthConfig describes a synthetic PPG recording.
type SynthConfig struct {
	// SampleRate is the frame rate in Hz
	SampleRate float64
	// BPM is the mean heart rate
	BPM float64
	// Samples is the recording length; 0 means unbounded
	Samples int
	// Baseline is the DC brightness level the pulse rides on
	Baseline float64
	// Amplitude scales the systolic bump
	Amplitude float64
	// DicroticRatio is the dicrotic bump height relative to the systolic one
	DicroticRatio float64
	// Width is the gaussian width of each bump as a fraction of the cycle
	Width float64
	// Noise is the standard deviation of additive gaussian noise
	Noise float64
	// JitterMs is the standard deviation of the beat-to-beat interval
	JitterMs float64
	// Seed makes noise and jitter reproducible
	Seed uint64
}

// DefaultSynthConfig returns ten seconds of a clean 60 bpm pulse at 30 fps.
func DefaultSynthConfig() SynthConfig {
	return SynthConfig{
		SampleRate:    30,
		BPM:           60,
		Samples:       300,
		Amplitude:     0.02,
		DicroticRatio: 0.6,
		Width:         0.08,
	}
}

// Synth generates a PPG-like waveform: a systolic and a dicrotic gaussian bump per
// cardiac cycle on a constant baseline.
type Synth struct {
	config SynthConfig
	rng    *rand.Rand

	phase    float64 // position in the current cycle, [0, 1)
	step     float64 // phase advance per sample for the current cycle
	produced int
}

// NewSynth creates a generator. It implements Source.
func NewSynth(cfg SynthConfig) (*Synth, error) {
	if cfg.SampleRate <= 0 {
		return nil, ErrInvalidSynthRate
	}
	if cfg.BPM <= 0 {
		return nil, ErrInvalidSynthBPM
	}
	if cfg.Width <= 0 {
		return nil, ErrInvalidSynthWidth
	}
	if cfg.Samples < 0 {
		return nil, ErrInvalidSynthLength
	}

	s := &Synth{
		config: cfg,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
	s.step = cfg.BPM / 60 / cfg.SampleRate
	return s, nil
}

// Next returns the next sample, or io.EOF once Samples have been produced.
func (s *Synth) Next() (float64, error) {
	if s.config.Samples > 0 && s.produced >= s.config.Samples {
		return 0, io.EOF
	}
	s.produced++

	t := s.phase
	cfg := s.config
	v := cfg.Baseline + cfg.Amplitude*(gauss(t, systolicPhase, cfg.Width)+cfg.DicroticRatio*gauss(t, dicroticPhase, cfg.Width))
	if cfg.Noise > 0 {
		v += s.rng.NormFloat64() * cfg.Noise
	}

	s.phase += s.step
	if s.phase >= 1 {
		s.phase -= 1
		s.nextCycle()
	}
	return v, nil
}

// nextCycle draws the length of the following beat when jitter is enabled.
func (s *Synth) nextCycle() {
	if s.config.JitterMs <= 0 {
		return
	}
	mean := MillisecondsPerMinute / s.config.BPM
	interval := mean + s.rng.NormFloat64()*s.config.JitterMs
	// Keep the beat within a physiological range
	interval = math.Max(interval, mean/2)
	interval = math.Min(interval, mean*2)
	s.step = 1000 / interval / s.config.SampleRate
}

// Reset rewinds the generator to its initial state, including the random stream.
func (s *Synth) Reset() {
	s.rng = rand.New(rand.NewPCG(s.config.Seed, s.config.Seed^0x9e3779b97f4a7c15))
	s.phase = 0
	s.step = s.config.BPM / 60 / s.config.SampleRate
	s.produced = 0
}

// SampleRate returns the generator frame rate
func (s *Synth) SampleRate() float64 {
	return s.config.SampleRate
}

// Config returns the current configuration
func (s *Synth) Config() SynthConfig {
	return s.config
}

func gauss(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-0.5 * z * z)
}
