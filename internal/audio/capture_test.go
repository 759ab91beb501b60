package audio

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
)

func createTestCapture(t *testing.T, cfg Config) *Capture {
	t.Helper()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// frameBytes encodes float32 frames the way the device delivers them
func frameBytes(frames ...float32) []byte {
	out := make([]byte, 0, len(frames)*4)
	for _, f := range frames {
		b := math.Float32bits(f)
		out = append(out, byte(b), byte(b>>8), byte(b>>16), byte(b>>24))
	}
	return out
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DeviceIndex != -1 {
		t.Errorf("DefaultConfig().DeviceIndex = %d, want -1", cfg.DeviceIndex)
	}
	if cfg.SampleRate != 48000 {
		t.Errorf("DefaultConfig().SampleRate = %d, want 48000", cfg.SampleRate)
	}
	if cfg.Channels != 1 {
		t.Errorf("DefaultConfig().Channels = %d, want 1", cfg.Channels)
	}
	if cfg.BufferSize != 512 {
		t.Errorf("DefaultConfig().BufferSize = %d, want 512", cfg.BufferSize)
	}
	if cfg.FrameRate != 30 {
		t.Errorf("DefaultConfig().FrameRate = %v, want 30", cfg.FrameRate)
	}
}

func TestNewEnvelope(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate uint32
		frameRate  float64
		wantBlock  int
		wantErr    bool
	}{
		{"48k at 30 fps", 48000, 30, 1600, false},
		{"44.1k at 30 fps", 44100, 30, 1470, false},
		{"44.1k at 60 fps", 44100, 60, 735, false},
		{"zero frame rate", 48000, 0, 0, true},
		{"negative frame rate", 48000, -30, 0, true},
		{"NaN frame rate", 48000, math.NaN(), 0, true},
		{"frame rate above audio rate", 100, 200, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := NewEnvelope(tt.sampleRate, tt.frameRate)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidFrameRate) {
					t.Errorf("NewEnvelope() error = %v, want ErrInvalidFrameRate", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewEnvelope() error = %v", err)
			}
			if env.BlockSize() != tt.wantBlock {
				t.Errorf("BlockSize() = %d, want %d", env.BlockSize(), tt.wantBlock)
			}
		})
	}
}

func TestEnvelope_RMS(t *testing.T) {
	tests := []struct {
		name    string
		samples []float32
		want    []float64
	}{
		{"constant", []float32{0.5, 0.5, 0.5, 0.5}, []float64{0.5}},
		{"alternating", []float32{0.25, -0.25, 0.25, -0.25}, []float64{0.25}},
		{"silence", []float32{0, 0, 0, 0}, []float64{0}},
		{"two blocks", []float32{1, 1, 1, 1, 0.5, -0.5, 0.5, -0.5}, []float64{1, 0.5}},
		{"partial block", []float32{1, 1, 1}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := NewEnvelope(120, 30)
			if err != nil {
				t.Fatalf("NewEnvelope() error = %v", err)
			}

			var got []float64
			env.Add(tt.samples, func(v float64) { got = append(got, v) })

			if len(got) != len(tt.want) {
				t.Fatalf("emitted %v, want %v", got, tt.want)
			}
			for i := range got {
				if math.Abs(got[i]-tt.want[i]) > 1e-9 {
					t.Errorf("value[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestEnvelope_SpansCalls(t *testing.T) {
	env, _ := NewEnvelope(120, 30)

	var got []float64
	emit := func(v float64) { got = append(got, v) }
	env.Add([]float32{0.5, 0.5}, emit)
	if len(got) != 0 {
		t.Fatalf("emitted before the block was complete: %v", got)
	}
	env.Add([]float32{0.5, 0.5, 0.5}, emit)
	if len(got) != 1 || math.Abs(got[0]-0.5) > 1e-9 {
		t.Errorf("emitted %v, want [0.5]", got)
	}
}

func TestEnvelope_Reset(t *testing.T) {
	env, _ := NewEnvelope(120, 30)

	var got []float64
	emit := func(v float64) { got = append(got, v) }
	env.Add([]float32{1, 1, 1}, emit)
	env.Reset()
	env.Add([]float32{0, 0, 0, 0}, emit)

	if len(got) != 1 || got[0] != 0 {
		t.Errorf("emitted %v after Reset, want [0]", got)
	}
}

func TestNew_InvalidFrameRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FrameRate = 0
	if _, err := New(cfg); !errors.Is(err, ErrInvalidFrameRate) {
		t.Errorf("New() error = %v, want ErrInvalidFrameRate", err)
	}
}

func TestNew(t *testing.T) {
	cfg := Config{DeviceIndex: 2, SampleRate: 44100, Channels: 2, BufferSize: 1024, FrameRate: 60}
	c := createTestCapture(t, cfg)

	if c.config.DeviceIndex != 2 {
		t.Errorf("config.DeviceIndex = %d, want 2", c.config.DeviceIndex)
	}
	if c.SampleRate() != 60 {
		t.Errorf("SampleRate() = %v, want 60", c.SampleRate())
	}
	if cap(c.samples) != 64 {
		t.Errorf("samples capacity = %d, want 64", cap(c.samples))
	}
	if c.IsRunning() {
		t.Error("IsRunning() = true for new capture, want false")
	}
}

func TestCapture_NotInitialized(t *testing.T) {
	c := createTestCapture(t, DefaultConfig())

	if _, err := c.ListDevices(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("ListDevices() error = %v, want ErrNotInitialized", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Start() error = %v, want ErrNotInitialized", err)
	}
}

func TestCapture_Start_AlreadyRunning(t *testing.T) {
	c := createTestCapture(t, DefaultConfig())
	c.running.Store(true)
	defer c.running.Store(false)

	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Start() when running error = %v, want ErrAlreadyRunning", err)
	}
}

func TestCapture_Stop_NotRunning(t *testing.T) {
	c := createTestCapture(t, DefaultConfig())

	if err := c.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() error = %v, want ErrNotRunning", err)
	}
}

func TestCapture_HandleFrames(t *testing.T) {
	c := createTestCapture(t, Config{SampleRate: 120, Channels: 1, FrameRate: 30})

	c.handleFrames(frameBytes(0.5, -0.5, 0.5, -0.5, 0.25, 0.25, 0.25, 0.25))

	for _, want := range []float64{0.5, 0.25} {
		got, err := c.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if math.Abs(got-want) > 1e-6 {
			t.Errorf("Next() = %v, want %v", got, want)
		}
	}
}

func TestCapture_HandleFrames_Stereo(t *testing.T) {
	c := createTestCapture(t, Config{SampleRate: 120, Channels: 2, FrameRate: 30})

	// right channel carries noise that must be ignored
	c.handleFrames(frameBytes(0.5, 0.9, 0.5, -0.9, 0.5, 0.9, 0.5, -0.9))

	got, err := c.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if math.Abs(got-0.5) > 1e-6 {
		t.Errorf("Next() = %v, want 0.5 from the left channel", got)
	}
}

func TestCapture_HandleFrames_Empty(t *testing.T) {
	c := createTestCapture(t, Config{SampleRate: 120, Channels: 1, FrameRate: 30})

	c.handleFrames(nil)
	c.handleFrames([]byte{0x00, 0x01})

	if len(c.samples) != 0 {
		t.Errorf("queued %d samples from empty input", len(c.samples))
	}
}

func TestCapture_DropsWhenFull(t *testing.T) {
	c := createTestCapture(t, Config{SampleRate: 100, Channels: 1, FrameRate: 50})

	frames := make([]float32, 2*(cap(c.samples)+10))
	c.handleFrames(frameBytes(frames...))

	if len(c.samples) != cap(c.samples) {
		t.Errorf("queued %d samples, want %d", len(c.samples), cap(c.samples))
	}
	if c.Dropped() != 10 {
		t.Errorf("Dropped() = %d, want 10", c.Dropped())
	}
}

func TestCapture_NextAfterClose(t *testing.T) {
	c := createTestCapture(t, Config{SampleRate: 120, Channels: 1, FrameRate: 30})
	c.handleFrames(frameBytes(1, 1, 1, 1))

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// queued samples survive Close
	if v, err := c.Next(); err != nil || v != 1 {
		t.Errorf("Next() = %v, %v, want 1, nil", v, err)
	}
	if _, err := c.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() after drain error = %v, want io.EOF", err)
	}
}

func TestCapture_SafeSend_Closed(t *testing.T) {
	c := createTestCapture(t, DefaultConfig())
	c.closeSamples()

	if c.safeSend(1) {
		t.Error("safeSend() succeeded on a closed capture")
	}
}

func TestCapture_CloseMultiple(t *testing.T) {
	c := createTestCapture(t, DefaultConfig())

	if err := c.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestCapture_ConcurrentCloseAndSend(t *testing.T) {
	for i := 0; i < 50; i++ {
		c, err := New(Config{SampleRate: 100, Channels: 1, FrameRate: 50})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.safeSend(float64(j))
			}
		}()
		go func() {
			defer wg.Done()
			_ = c.Close()
		}()
		wg.Wait()
	}
}

func TestBytesAsFloat32(t *testing.T) {
	// 1.0 = 0x3F800000 and -1.0 = 0xBF800000 in little-endian
	data := []byte{0x00, 0x00, 0x80, 0x3F, 0x00, 0x00, 0x80, 0xBF}

	result := bytesAsFloat32(data)

	if len(result) != 2 {
		t.Fatalf("length = %d, want 2", len(result))
	}
	if result[0] != 1.0 || result[1] != -1.0 {
		t.Errorf("result = %v, want [1 -1]", result)
	}
}

func TestBytesAsFloat32_Short(t *testing.T) {
	tests := [][]byte{nil, {}, {0x00, 0x00, 0x80}}
	for _, data := range tests {
		if result := bytesAsFloat32(data); result != nil {
			t.Errorf("bytesAsFloat32(%v) = %v, want nil", data, result)
		}
	}
}

func TestBytesAsFloat32_PartialFrame(t *testing.T) {
	data := frameBytes(0.5, 0.25)
	data = append(data, 0x01, 0x02)

	result := bytesAsFloat32(data)
	if len(result) != 2 || result[0] != 0.5 || result[1] != 0.25 {
		t.Errorf("result = %v, want [0.5 0.25]", result)
	}
}

func BenchmarkHandleFrames(b *testing.B) {
	c, _ := New(DefaultConfig())
	data := frameBytes(make([]float32, 512)...)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.handleFrames(data)
		for len(c.samples) > 0 {
			<-c.samples
		}
	}
}
