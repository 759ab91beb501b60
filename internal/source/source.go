// internal/source/source.go
// Package source supplies raw intensity samples to a measurement session.
package source

import (
	"errors"
	"io"
)

// MillisecondsPerMinute is used for BPM to interval conversion
const MillisecondsPerMinute = 60000.0

// Source yields raw samples in capture order. Next returns io.EOF when the
// recording is exhausted.
type Source interface {
	Next() (float64, error)
}

// SliceSource replays an in-memory recording.
type SliceSource struct {
	samples []float64
	pos     int
}

// NewSliceSource wraps samples. The slice is not copied.
func NewSliceSource(samples []float64) *SliceSource {
	return &SliceSource{samples: samples}
}

// Next returns the next sample or io.EOF
func (s *SliceSource) Next() (float64, error) {
	if s.pos >= len(s.samples) {
		return 0, io.EOF
	}
	v := s.samples[s.pos]
	s.pos++
	return v, nil
}

// ReadAll drains src into a slice.
func ReadAll(src Source) ([]float64, error) {
	var out []float64
	for {
		v, err := src.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}
