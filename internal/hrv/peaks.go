// internal/hrv/peaks.go
// Package hrv turns a filtered PPG sample stream into heart rate and RMSSD.
package hrv

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// MillisecondsPerMinute is used for interval to BPM conversion
const MillisecondsPerMinute = 60000.0

// DetectPeaks returns the ascending indices of accepted local maxima.
// A sample is a local maximum when it strictly exceeds both neighbours. A maximum is
// accepted only when it lies more than minDistance samples after the previously
// accepted one.
func DetectPeaks(samples []float64, minDistance int) []int {
	var peaks []int
	for i := 1; i < len(samples)-1; i++ {
		if !isLocalMax(samples, i) {
			continue
		}
		if len(peaks) > 0 && i-peaks[len(peaks)-1] <= minDistance {
			continue
		}
		peaks = append(peaks, i)
	}
	return peaks
}

func isLocalMax(samples []float64, i int) bool {
	return samples[i] > samples[i-1] && samples[i] > samples[i+1]
}

// PulseIntervals converts adjacent peak indices into intervals in milliseconds.
func PulseIntervals(peaks []int, sampleRate float64) []float64 {
	if len(peaks) < 2 {
		return nil
	}
	intervals := make([]float64, 0, len(peaks)-1)
	for i := 1; i < len(peaks); i++ {
		diff := float64(peaks[i] - peaks[i-1])
		intervals = append(intervals, diff/sampleRate*1000)
	}
	return intervals
}

// CleanIntervals keeps the intervals strictly inside (lo, hi) milliseconds.
func CleanIntervals(intervals []float64, lo, hi float64) []float64 {
	cleaned := make([]float64, 0, len(intervals))
	for _, v := range intervals {
		if v > lo && v < hi {
			cleaned = append(cleaned, v)
		}
	}
	return cleaned
}

// PairIntervals sums consecutive intervals two at a time (0+1, 2+3, ...).
// A trailing odd interval is dropped.
//
// The detector sees two peaks per cardiac cycle (systolic and dicrotic), so each
// pair approximates one full beat-to-beat interval. This is an empirical
// correction, not a derived one.
func PairIntervals(intervals []float64) []float64 {
	pairs := make([]float64, 0, len(intervals)/2)
	for i := 0; i+1 < len(intervals); i += 2 {
		pairs = append(pairs, intervals[i]+intervals[i+1])
	}
	return pairs
}

// RMSSD returns the root mean square of successive differences.
// ok is false for fewer than two intervals.
func RMSSD(intervals []float64) (rmssd float64, ok bool) {
	if len(intervals) < 2 {
		return 0, false
	}
	var sum float64
	for i := 1; i < len(intervals); i++ {
		d := intervals[i] - intervals[i-1]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(intervals)-1)), true
}

// HeartRate converts half-cycle intervals into beats per minute, truncated.
// The raw rate is halved to undo the two-peaks-per-beat detection.
// ok is false when intervals is empty.
func HeartRate(intervals []float64) (bpm int, ok bool) {
	if len(intervals) == 0 {
		return 0, false
	}
	mean := stat.Mean(intervals, nil)
	if mean <= 0 {
		return 0, false
	}
	return int(MillisecondsPerMinute / mean / 2), true
}
