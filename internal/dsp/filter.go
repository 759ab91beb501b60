// internal/dsp/filter.go
package dsp

import "errors"

var (
	// ErrEmptyCoefficients indicates a filter needs at least one coefficient on each side
	ErrEmptyCoefficients = errors.New("filter coefficients must not be empty")
	// ErrInvalidNormalizer indicates the leading feedback coefficient must be 1.0
	ErrInvalidNormalizer = errors.New("leading feedback coefficient must be 1.0")
)

// Cardiac bandpass design. The numerator is 0.05*(1 - z^-2)^2, so the filter has
// zero gain at DC and at Nyquist; the denominator places the passband around the
// pulse frequencies seen at camera frame rates.
var (
	BandpassFeedForward = []float64{0.05, 0, -0.1, 0, 0.05}
	BandpassFeedback    = []float64{1.0, -1.99, 1.57, -0.68, 0.12}
)

// Filter is a Direct-Form-I IIR filter applied one sample at a time.
// It is not safe for concurrent use; one session owns one filter.
type Filter struct {
	b []float64 // feed-forward coefficients
	a []float64 // feedback coefficients, a[0] == 1

	x []float64 // input history, most recent first, len(b)
	y []float64 // output history, most recent first, len(a)-1
}

// NewFilter creates a filter from the given coefficients.
// The coefficient slices are copied.
func NewFilter(b, a []float64) (*Filter, error) {
	if len(b) == 0 || len(a) == 0 {
		return nil, ErrEmptyCoefficients
	}
	if a[0] != 1.0 {
		return nil, ErrInvalidNormalizer
	}

	f := &Filter{
		b: append([]float64(nil), b...),
		a: append([]float64(nil), a...),
		x: make([]float64, len(b)),
		y: make([]float64, len(a)-1),
	}
	return f, nil
}

// NewBandpass returns the fixed-coefficient cardiac bandpass filter.
func NewBandpass() *Filter {
	f, err := NewFilter(BandpassFeedForward, BandpassFeedback)
	if err != nil {
		// Coefficients are package constants
		panic(err)
	}
	return f
}

// Filter pushes value through the filter and returns the filtered output.
//
//	out = sum(b[i]*x[i]) - sum(a[i+1]*y[i])
func (f *Filter) Filter(value float64) float64 {
	copy(f.x[1:], f.x[:len(f.x)-1])
	f.x[0] = value

	var forward, feedback float64
	for i, c := range f.b {
		forward += c * f.x[i]
	}
	for i, v := range f.y {
		feedback += f.a[i+1] * v
	}
	out := forward - feedback

	if len(f.y) > 0 {
		copy(f.y[1:], f.y[:len(f.y)-1])
		f.y[0] = out
	}
	return out
}

// Reset zeroes the filter history without reallocating.
func (f *Filter) Reset() {
	clear(f.x)
	clear(f.y)
}

// Process resets the filter and filters the whole signal.
// The returned slice has the same length as signal.
func (f *Filter) Process(signal []float64) []float64 {
	f.Reset()
	out := make([]float64, len(signal))
	for i, v := range signal {
		out[i] = f.Filter(v)
	}
	return out
}

// Order returns the number of stored input and output history values.
func (f *Filter) Order() (inputs, outputs int) {
	return len(f.x), len(f.y)
}
