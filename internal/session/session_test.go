package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ColonelBlimp/hrvmeter/internal/dsp"
	"github.com/ColonelBlimp/hrvmeter/internal/hrv"
	"github.com/ColonelBlimp/hrvmeter/internal/source"
)

// sinkRecorder is safe for use from the dispatcher goroutine
type sinkRecorder struct {
	mu      sync.Mutex
	bpms    []int
	results []hrv.Result
}

func (r *sinkRecorder) OnBPMUpdate(bpm int) {
	r.mu.Lock()
	r.bpms = append(r.bpms, bpm)
	r.mu.Unlock()
}

func (r *sinkRecorder) OnSessionComplete(result hrv.Result) {
	r.mu.Lock()
	r.results = append(r.results, result)
	r.mu.Unlock()
}

func (r *sinkRecorder) snapshot() ([]int, []hrv.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.bpms...), append([]hrv.Result(nil), r.results...)
}

// gatedSink blocks its first BPM delivery until released
type gatedSink struct {
	sinkRecorder
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedSink) OnBPMUpdate(bpm int) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	g.sinkRecorder.OnBPMUpdate(bpm)
}

type traceRows struct {
	rows int
	err  error
}

func (t *traceRows) Record(int, float64, float64) error {
	t.rows++
	return t.err
}

type failingSource struct {
	left int
}

func (f *failingSource) Next() (float64, error) {
	if f.left == 0 {
		return 0, errors.New("camera frame lost")
	}
	f.left--
	return 0.5, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func createTestSynth(t *testing.T, samples int) *source.Synth {
	t.Helper()
	cfg := source.DefaultSynthConfig()
	cfg.Samples = samples
	s, err := source.NewSynth(cfg)
	if err != nil {
		t.Fatalf("Failed to create Synth: %v", err)
	}
	return s
}

func createTestRunner(t *testing.T, cfg Config, sinks ...hrv.Observer) *Runner {
	t.Helper()
	r, err := NewRunner(cfg, quietLogger(), sinks...)
	if err != nil {
		t.Fatalf("Failed to create Runner: %v", err)
	}
	return r
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	rec := &sinkRecorder{}
	d := NewDispatcher(16, quietLogger(), rec)

	for bpm := 60; bpm < 70; bpm++ {
		d.OnBPMUpdate(bpm)
	}
	d.OnSessionComplete(hrv.Result{AverageHR: 65, HasAverageHR: true})
	d.Close()

	bpms, results := rec.snapshot()
	if len(bpms) != 10 {
		t.Fatalf("delivered %d updates, want 10", len(bpms))
	}
	for i, bpm := range bpms {
		if bpm != 60+i {
			t.Errorf("update %d = %d, want %d", i, bpm, 60+i)
		}
	}
	if len(results) != 1 || results[0].AverageHR != 65 {
		t.Errorf("results = %+v, want one with AverageHR 65", results)
	}
	if d.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", d.Dropped())
	}
}

func TestDispatcher_FanOut(t *testing.T) {
	a, b := &sinkRecorder{}, &sinkRecorder{}
	d := NewDispatcher(0, nil, a, b)

	d.OnBPMUpdate(72)
	d.OnSessionComplete(hrv.Result{})
	d.Close()

	for name, rec := range map[string]*sinkRecorder{"a": a, "b": b} {
		bpms, results := rec.snapshot()
		if len(bpms) != 1 || len(results) != 1 {
			t.Errorf("sink %s got %d updates and %d results, want 1 and 1", name, len(bpms), len(results))
		}
	}
}

func TestDispatcher_DropsUpdatesNotResults(t *testing.T) {
	sink := &gatedSink{entered: make(chan struct{}), release: make(chan struct{})}
	d := NewDispatcher(1, quietLogger(), sink)

	d.OnBPMUpdate(60)
	<-sink.entered
	for i := 0; i < 10; i++ {
		d.OnBPMUpdate(61)
	}

	// one update in flight, one queued
	if got := d.Dropped(); got != 9 {
		t.Errorf("Dropped() = %d, want 9", got)
	}

	close(sink.release)
	d.OnSessionComplete(hrv.Result{RMSSD: 30, HasRMSSD: true})
	d.Close()

	bpms, results := sink.snapshot()
	if len(bpms) != 2 {
		t.Errorf("delivered %d updates, want 2", len(bpms))
	}
	if len(results) != 1 {
		t.Errorf("delivered %d results, want 1", len(results))
	}
}

func TestDispatcher_CloseIdempotent(t *testing.T) {
	d := NewDispatcher(4, quietLogger())
	d.Close()
	d.Close()
}

func TestNewRunner_InvalidConfig(t *testing.T) {
	cfg := Config{Processor: hrv.DefaultConfig()}
	cfg.Processor.SampleRate = 0

	if _, err := NewRunner(cfg, nil); !errors.Is(err, hrv.ErrInvalidSampleRate) {
		t.Errorf("NewRunner() error = %v, want ErrInvalidSampleRate", err)
	}
}

func TestRunner_RegularPulse(t *testing.T) {
	spectrum, err := dsp.NewSpectrum(dsp.DefaultSpectrumConfig())
	if err != nil {
		t.Fatalf("Failed to create Spectrum: %v", err)
	}
	rec := &sinkRecorder{}
	r := createTestRunner(t, Config{Processor: hrv.DefaultConfig(), Spectrum: spectrum}, rec)

	summary, err := r.Run(context.Background(), createTestSynth(t, 300))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Samples != 300 {
		t.Errorf("Samples = %d, want 300", summary.Samples)
	}
	if !summary.Valid() {
		t.Fatalf("result should be valid: %+v", summary.Result)
	}
	if summary.AverageHR < 58 || summary.AverageHR > 62 {
		t.Errorf("AverageHR = %d, want about 60", summary.AverageHR)
	}
	if summary.RMSSD > 5 {
		t.Errorf("RMSSD = %v, want near 0 for a regular pulse", summary.RMSSD)
	}
	if !summary.HasSpectralBPM {
		t.Error("spectral BPM missing")
	}

	bpms, results := rec.snapshot()
	if len(results) != 1 || results[0] != summary.Result {
		t.Errorf("sink results = %+v, want [%+v]", results, summary.Result)
	}
	if len(bpms) == 0 {
		t.Error("no live BPM updates delivered")
	}
}

func TestRunner_ShortSession(t *testing.T) {
	rec := &sinkRecorder{}
	r := createTestRunner(t, Config{Processor: hrv.DefaultConfig()}, rec)

	summary, err := r.Run(context.Background(), source.NewSliceSource([]float64{0.5, 0.6, 0.4, 0.5, 0.6}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Valid() {
		t.Errorf("five samples should not give a result: %+v", summary.Result)
	}
	_, results := rec.snapshot()
	if len(results) != 1 || results[0].Valid() {
		t.Errorf("sink should receive one empty result, got %+v", results)
	}
}

func TestRunner_SourceRequired(t *testing.T) {
	r := createTestRunner(t, Config{Processor: hrv.DefaultConfig()})
	if _, err := r.Run(context.Background(), nil); !errors.Is(err, ErrSourceRequired) {
		t.Errorf("Run(nil) error = %v, want ErrSourceRequired", err)
	}
}

func TestRunner_Cancelled(t *testing.T) {
	rec := &sinkRecorder{}
	r := createTestRunner(t, Config{Processor: hrv.DefaultConfig()}, rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, createTestSynth(t, 300))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if _, results := rec.snapshot(); len(results) != 0 {
		t.Errorf("cancelled session delivered results: %+v", results)
	}
}

func TestRunner_RealtimeCancelled(t *testing.T) {
	rec := &sinkRecorder{}
	r := createTestRunner(t, Config{Processor: hrv.DefaultConfig(), Realtime: true}, rec)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	summary, err := r.Run(ctx, createTestSynth(t, 0))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Run() took %v after cancellation", elapsed)
	}
	// 30 fps for 100ms
	if summary.Samples > 10 {
		t.Errorf("Samples = %d, realtime pacing not applied", summary.Samples)
	}
	if _, results := rec.snapshot(); len(results) != 0 {
		t.Errorf("cancelled session delivered results: %+v", results)
	}
}

func TestRunner_SourceError(t *testing.T) {
	rec := &sinkRecorder{}
	r := createTestRunner(t, Config{Processor: hrv.DefaultConfig()}, rec)

	summary, err := r.Run(context.Background(), &failingSource{left: 3})
	if err == nil {
		t.Fatal("Run() should fail when the source fails")
	}
	if summary.Samples != 3 {
		t.Errorf("Samples = %d, want 3", summary.Samples)
	}
	if _, results := rec.snapshot(); len(results) != 0 {
		t.Errorf("failed session delivered results: %+v", results)
	}
}

func TestRunner_Recorder(t *testing.T) {
	trace := &traceRows{}
	r := createTestRunner(t, Config{Processor: hrv.DefaultConfig(), Recorder: trace})

	if _, err := r.Run(context.Background(), createTestSynth(t, 120)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if trace.rows != 120 {
		t.Errorf("recorded %d rows, want 120", trace.rows)
	}
}

func TestRunner_RecorderError(t *testing.T) {
	trace := &traceRows{err: errors.New("disk full")}
	r := createTestRunner(t, Config{Processor: hrv.DefaultConfig(), Recorder: trace})

	if _, err := r.Run(context.Background(), createTestSynth(t, 120)); err == nil {
		t.Error("Run() should fail when the recorder fails")
	}
	if trace.rows != 1 {
		t.Errorf("recorded %d rows, want 1", trace.rows)
	}
}

func TestRunner_Dropped(t *testing.T) {
	r := createTestRunner(t, Config{Processor: hrv.DefaultConfig()})
	summary, err := r.Run(context.Background(), source.NewSliceSource([]float64{0.5, math.NaN(), 0.5}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Samples != 3 || summary.Dropped != 1 {
		t.Errorf("Samples = %d, Dropped = %d, want 3 and 1", summary.Samples, summary.Dropped)
	}
}

// gatherValue returns the value of the counter or gauge name with the given labels
func gatherValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func TestRunner_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	r := createTestRunner(t, Config{Processor: hrv.DefaultConfig(), Metrics: metrics})

	summary, err := r.Run(context.Background(), createTestSynth(t, 300))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := gatherValue(t, reg, "hrvmeter_samples_total", nil); got != 300 {
		t.Errorf("samples_total = %v, want 300", got)
	}
	if got := gatherValue(t, reg, "hrvmeter_samples_dropped_total", nil); got != 0 {
		t.Errorf("samples_dropped_total = %v, want 0", got)
	}
	if got := gatherValue(t, reg, "hrvmeter_sessions_total", map[string]string{"outcome": "valid"}); got != 1 {
		t.Errorf("sessions_total{outcome=valid} = %v, want 1", got)
	}
	if got := gatherValue(t, reg, "hrvmeter_last_average_hr", nil); got != float64(summary.AverageHR) {
		t.Errorf("last_average_hr = %v, want %d", got, summary.AverageHR)
	}
	if got := gatherValue(t, reg, "hrvmeter_bpm_updates_total", nil); got == 0 {
		t.Error("bpm_updates_total = 0, want live updates")
	}
}

func TestNewMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewMetrics(reg); err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	if _, err := NewMetrics(reg); err == nil {
		t.Error("registering twice should fail")
	}
}
