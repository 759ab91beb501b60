// internal/dsp/spectrum.go
package dsp

import (
	"errors"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrInvalidSampleRate indicates sample rate must be positive
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	// ErrInvalidBand indicates the search band must be positive, ordered and below Nyquist
	ErrInvalidBand = errors.New("spectrum band must satisfy 0 < min < max < Nyquist")
)

// MinSpectrumSamples is the shortest signal DominantBPM will analyse.
const MinSpectrumSamples = 32

// SpectrumConfig holds configuration for the spectral heart-rate estimate.
type SpectrumConfig struct {
	// SampleRate is the sampling rate in Hz (from config: sampling_rate)
	SampleRate float64
	// MinHz is the lowest frequency searched (from config: spectrum_min_hz)
	MinHz float64
	// MaxHz is the highest frequency searched (from config: spectrum_max_hz)
	MaxHz float64
}

// DefaultSpectrumConfig covers 42-240 bpm at 30 frames per second.
func DefaultSpectrumConfig() SpectrumConfig {
	return SpectrumConfig{
		SampleRate: 30,
		MinHz:      0.7,
		MaxHz:      4.0,
	}
}

// Spectrum estimates the dominant pulsatile frequency of a whole recording.
// It is a cross-check for the peak-based heart rate, not part of it.
type Spectrum struct {
	config SpectrumConfig
}

// NewSpectrum creates a spectral estimator with the given configuration.
func NewSpectrum(cfg SpectrumConfig) (*Spectrum, error) {
	if cfg.SampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	if cfg.MinHz <= 0 || cfg.MaxHz <= cfg.MinHz || cfg.MaxHz >= cfg.SampleRate/2 {
		return nil, ErrInvalidBand
	}
	return &Spectrum{config: cfg}, nil
}

// DominantFrequency returns the strongest frequency in the configured band and its
// magnitude. ok is false when the signal is too short or carries no energy in band.
func (s *Spectrum) DominantFrequency(samples []float64) (freq, magnitude float64, ok bool) {
	n := len(samples)
	if n < MinSpectrumSamples {
		return 0, 0, false
	}

	mean := stat.Mean(samples, nil)
	buf := make([]float64, n)
	for i, v := range samples {
		buf[i] = v - mean
	}
	window.Hann(buf)

	spectrum := fft.FFTReal(buf)
	binWidth := s.config.SampleRate / float64(n)

	start := int(s.config.MinHz / binWidth)
	end := int(s.config.MaxHz/binWidth) + 1
	if start < 1 {
		start = 1
	}
	if end > n/2 {
		end = n / 2
	}
	if start >= end {
		return 0, 0, false
	}

	mags := make([]float64, n/2+1)
	peak := -1
	for i := start - 1; i <= end && i < len(mags); i++ {
		mags[i] = cmplx.Abs(spectrum[i])
	}
	for i := start; i < end; i++ {
		if peak < 0 || mags[i] > mags[peak] {
			peak = i
		}
	}
	if peak < 0 || mags[peak] == 0 {
		return 0, 0, false
	}

	// Parabolic interpolation around the peak bin
	offset := 0.0
	if peak > 0 && peak < len(mags)-1 {
		alpha, beta, gamma := mags[peak-1], mags[peak], mags[peak+1]
		if denom := alpha - 2*beta + gamma; denom != 0 {
			offset = 0.5 * (alpha - gamma) / denom
		}
	}

	return (float64(peak) + offset) * binWidth, mags[peak], true
}

// DominantBPM returns the dominant in-band frequency expressed in beats per minute.
func (s *Spectrum) DominantBPM(samples []float64) (float64, bool) {
	freq, _, ok := s.DominantFrequency(samples)
	if !ok {
		return 0, false
	}
	return freq * 60, true
}

// Config returns the current configuration
func (s *Spectrum) Config() SpectrumConfig {
	return s.config
}
