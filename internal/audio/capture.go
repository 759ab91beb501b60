// internal/audio/capture.go
// Package audio reads an analog pulse sensor wired to a sound card input.
//
// The sensor modulates the amplitude of the captured audio with the light
// reaching its photodiode, so the RMS of each block of audio frames is one
// intensity sample.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/gen2brain/malgo"
)

var (
	ErrNotInitialized   = errors.New("audio capture not initialized")
	ErrAlreadyRunning   = errors.New("audio capture already running")
	ErrNotRunning       = errors.New("audio capture not running")
	ErrInvalidFrameRate = errors.New("frame rate must be positive and below the audio sample rate")
)

// Config holds audio capture configuration
type Config struct {
	DeviceIndex int     // -1 for default device
	SampleRate  uint32  // audio frames per second, e.g. 48000
	Channels    uint32  // 1 for mono; only the first channel is used
	BufferSize  uint32  // frames per callback
	FrameRate   float64 // intensity samples per second delivered by Next
}

// DefaultConfig returns the defaults for a mono line-in sensor
func DefaultConfig() Config {
	return Config{
		DeviceIndex: -1,
		SampleRate:  48000,
		Channels:    1,
		BufferSize:  512,
		FrameRate:   30,
	}
}

// Envelope reduces audio frames to one RMS value per block.
type Envelope struct {
	block int
	sumSq float64
	n     int
}

// NewEnvelope sizes the block so that frameRate values come out per second of audio.
func NewEnvelope(sampleRate uint32, frameRate float64) (*Envelope, error) {
	if frameRate <= 0 || math.IsNaN(frameRate) || frameRate >= float64(sampleRate) {
		return nil, ErrInvalidFrameRate
	}
	return &Envelope{block: int(math.Round(float64(sampleRate) / frameRate))}, nil
}

// Add accumulates samples and calls emit for every completed block.
// A block may span several calls.
func (e *Envelope) Add(samples []float32, emit func(float64)) {
	for _, s := range samples {
		v := float64(s)
		e.sumSq += v * v
		e.n++
		if e.n == e.block {
			emit(math.Sqrt(e.sumSq / float64(e.n)))
			e.sumSq = 0
			e.n = 0
		}
	}
}

// BlockSize returns the number of audio frames per intensity sample
func (e *Envelope) BlockSize() int {
	return e.block
}

// Reset discards a partially accumulated block
func (e *Envelope) Reset() {
	e.sumSq = 0
	e.n = 0
}

// Capture samples a pulse sensor from an audio device. It implements
// source.Source: Next blocks until an intensity sample is ready and returns
// io.EOF once the capture is closed or its context is done.
type Capture struct {
	config   Config
	ctx      *malgo.AllocatedContext
	device   *malgo.Device
	running  atomic.Bool
	mu       sync.Mutex
	envelope *Envelope

	samples   chan float64
	closed    atomic.Bool
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// New creates a new capture instance
func New(cfg Config) (*Capture, error) {
	env, err := NewEnvelope(cfg.SampleRate, cfg.FrameRate)
	if err != nil {
		return nil, err
	}
	return &Capture{
		config:   cfg,
		envelope: env,
		samples:  make(chan float64, 64),
	}, nil
}

// Init initializes the audio backend
func (c *Capture) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	c.ctx = ctx
	return nil
}

// ListDevices returns available capture devices
func (c *Capture) ListDevices() ([]malgo.DeviceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listDevices()
}

func (c *Capture) listDevices() ([]malgo.DeviceInfo, error) {
	if c.ctx == nil {
		return nil, ErrNotInitialized
	}
	infos, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	return infos, nil
}

// Start begins capture. When ctx is done the device is stopped and Next
// returns io.EOF after the queued samples.
func (c *Capture) Start(ctx context.Context) error {
	if c.running.Load() {
		return ErrAlreadyRunning
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return ErrNotInitialized
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.SampleRate = c.config.SampleRate
	deviceConfig.PeriodSizeInFrames = c.config.BufferSize
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = c.config.Channels

	if c.config.DeviceIndex >= 0 {
		devices, err := c.listDevices()
		if err != nil {
			return err
		}
		if c.config.DeviceIndex >= len(devices) {
			return fmt.Errorf("device index %d out of range (have %d devices)",
				c.config.DeviceIndex, len(devices))
		}
		deviceConfig.Capture.DeviceID = devices[c.config.DeviceIndex].ID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			c.handleFrames(input)
		},
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("init device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start device: %w", err)
	}

	c.envelope.Reset()
	c.device = device
	c.running.Store(true)

	go func() {
		<-ctx.Done()
		_ = c.Stop()
		c.closeSamples()
	}()

	return nil
}

// handleFrames runs on the audio thread
func (c *Capture) handleFrames(input []byte) {
	frames := bytesAsFloat32(input)
	if len(frames) == 0 {
		return
	}
	if ch := int(c.config.Channels); ch > 1 {
		mono := make([]float32, 0, len(frames)/ch)
		for i := 0; i+ch <= len(frames); i += ch {
			mono = append(mono, frames[i])
		}
		frames = mono
	}
	c.envelope.Add(frames, func(v float64) {
		if !c.safeSend(v) {
			c.dropped.Add(1)
		}
	})
}

// safeSend queues v without blocking. It reports false when the queue is
// full or already closed.
func (c *Capture) safeSend(v float64) (sent bool) {
	if c.closed.Load() {
		return false
	}
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()
	select {
	case c.samples <- v:
		return true
	default:
		return false
	}
}

// Next returns the next intensity sample
func (c *Capture) Next() (float64, error) {
	v, ok := <-c.samples
	if !ok {
		return 0, io.EOF
	}
	return v, nil
}

// Stop stops the device. Queued samples remain readable.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running.Load() {
		return ErrNotRunning
	}
	if c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
	c.running.Store(false)
	return nil
}

func (c *Capture) closeSamples() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.samples)
	})
}

// Close stops capture, ends the sample stream and releases the audio backend
func (c *Capture) Close() error {
	_ = c.Stop()
	c.closeSamples()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx != nil {
		if err := c.ctx.Uninit(); err != nil {
			return fmt.Errorf("uninit context: %w", err)
		}
		c.ctx.Free()
		c.ctx = nil
	}
	return nil
}

// IsRunning returns true if capture is active
func (c *Capture) IsRunning() bool {
	return c.running.Load()
}

// Dropped returns the number of intensity samples lost because Next was not keeping up
func (c *Capture) Dropped() uint64 {
	return c.dropped.Load()
}

// SampleRate returns the intensity sample rate
func (c *Capture) SampleRate() float64 {
	return c.config.FrameRate
}

// bytesAsFloat32 reinterprets little-endian float32 frames without copying.
// The result aliases data and is only valid for the duration of the callback.
func bytesAsFloat32(data []byte) []float32 {
	if len(data) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), len(data)/4)
}
