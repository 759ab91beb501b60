// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/ColonelBlimp/hrvmeter/internal/audio"
	"github.com/ColonelBlimp/hrvmeter/internal/dsp"
	"github.com/ColonelBlimp/hrvmeter/internal/hrv"
	"github.com/ColonelBlimp/hrvmeter/internal/logging"
	"github.com/ColonelBlimp/hrvmeter/internal/sink"
	"github.com/ColonelBlimp/hrvmeter/internal/source"
)

const (
	AppName       = "hrvmeter"
	ConfigType    = "yaml"
	DefaultConfig = `# HRV Meter Configuration

# Sampling
sampling_rate: 30            # Frames per second of the intensity samples

# Peak detection
min_peak_distance: 8         # Refractory distance between accepted peaks, in frames
min_interval_ms: 250         # Intervals must be longer than this (exclusive)
max_interval_ms: 1000        # Intervals must be shorter than this (exclusive)
live_peak_window: 10         # Peaks used for the live BPM estimate
min_session_intervals: 10    # A session needs more than this many clean intervals

# Spectral cross-check band
spectrum_min_hz: 0.7         # 42 bpm
spectrum_max_hz: 4.0         # 240 bpm

# CSV input
input_column: 0              # Zero-based column holding the sample
input_header: false          # First non-comment row is a header

# Line-in pulse sensor
audio_device: -1             # -1 for default device
audio_sample_rate: 48000     # Audio sample rate in Hz

# Playback
realtime: false              # Pace samples at sampling_rate instead of as fast as possible
live: false                  # Print live BPM updates

# Delivery
nats_url: ""                 # e.g. nats://127.0.0.1:4222, empty disables publishing
nats_bpm_subject: "hrv.bpm"
nats_result_subject: "hrv.session"
metrics_addr: ""             # e.g. :9108, empty disables the /metrics endpoint
trace_file: ""               # CSV of index,raw,filtered per sample, empty disables tracing

# Logging
log_level: "info"            # debug, info, warn or error
log_file: ""                 # Rotated log file, empty logs to stderr only
debug: false                 # Enable debug output
`
)

// Settings holds all application configuration
type Settings struct {
	// Sampling
	SamplingRate float64 `mapstructure:"sampling_rate"`

	// Peak detection
	MinPeakDistance     int     `mapstructure:"min_peak_distance"`
	MinIntervalMs       float64 `mapstructure:"min_interval_ms"`
	MaxIntervalMs       float64 `mapstructure:"max_interval_ms"`
	LivePeakWindow      int     `mapstructure:"live_peak_window"`
	MinSessionIntervals int     `mapstructure:"min_session_intervals"`

	// Spectral cross-check
	SpectrumMinHz float64 `mapstructure:"spectrum_min_hz"`
	SpectrumMaxHz float64 `mapstructure:"spectrum_max_hz"`

	// CSV input
	InputColumn int  `mapstructure:"input_column"`
	InputHeader bool `mapstructure:"input_header"`

	// Line-in pulse sensor
	AudioDevice     int    `mapstructure:"audio_device"`
	AudioSampleRate uint32 `mapstructure:"audio_sample_rate"`

	// Playback
	Realtime bool `mapstructure:"realtime"`
	Live     bool `mapstructure:"live"`

	// Delivery
	NATSURL           string `mapstructure:"nats_url"`
	NATSBPMSubject    string `mapstructure:"nats_bpm_subject"`
	NATSResultSubject string `mapstructure:"nats_result_subject"`
	MetricsAddr       string `mapstructure:"metrics_addr"`
	TraceFile         string `mapstructure:"trace_file"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
	Debug    bool   `mapstructure:"debug"`
}

// Init initializes Viper with defaults and config file.
// Config file search order: current directory, then ~/.config/hrvmeter/
func Init() error {
	setDefaults()

	viper.SetConfigType(ConfigType)
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	viper.AddConfigPath(filepath.Join(configDir, AppName))

	// Try .config.yaml first (hidden file), then config.yaml
	viper.SetConfigName(".config")
	if err = viper.ReadInConfig(); err != nil {
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}

	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("read config: %w", err)
		}
		if err = ensureConfigExists(filepath.Join(configDir, AppName)); err != nil {
			return err
		}
		if err = viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func setDefaults() {
	proc := hrv.DefaultConfig()
	band := dsp.DefaultSpectrumConfig()

	viper.SetDefault("sampling_rate", proc.SampleRate)
	viper.SetDefault("min_peak_distance", proc.MinPeakDistance)
	viper.SetDefault("min_interval_ms", proc.MinIntervalMs)
	viper.SetDefault("max_interval_ms", proc.MaxIntervalMs)
	viper.SetDefault("live_peak_window", proc.LivePeakWindow)
	viper.SetDefault("min_session_intervals", proc.MinSessionIntervals)
	viper.SetDefault("spectrum_min_hz", band.MinHz)
	viper.SetDefault("spectrum_max_hz", band.MaxHz)
	viper.SetDefault("input_column", 0)
	viper.SetDefault("input_header", false)
	viper.SetDefault("audio_device", -1)
	viper.SetDefault("audio_sample_rate", 48000)
	viper.SetDefault("realtime", false)
	viper.SetDefault("live", false)
	viper.SetDefault("nats_url", "")
	viper.SetDefault("nats_bpm_subject", sink.DefaultBPMSubject)
	viper.SetDefault("nats_result_subject", sink.DefaultResultSubject)
	viper.SetDefault("metrics_addr", "")
	viper.SetDefault("trace_file", "")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_file", "")
	viper.SetDefault("debug", false)
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err = os.MkdirAll(configPath, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err = os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get returns the current settings
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// Validate checks that all settings are within acceptable ranges
func (s *Settings) Validate() error {
	var errs []error

	// Webcams deliver between a few and a few hundred frames per second
	if s.SamplingRate < 5 || s.SamplingRate > 1000 {
		errs = append(errs, fmt.Errorf("sampling_rate must be between 5 and 1000 Hz, got %v", s.SamplingRate))
	}

	// Peak detection
	if s.MinPeakDistance < 0 {
		errs = append(errs, fmt.Errorf("min_peak_distance must not be negative, got %d", s.MinPeakDistance))
	}
	if s.MinIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("min_interval_ms must not be negative, got %v", s.MinIntervalMs))
	}
	if s.MaxIntervalMs <= s.MinIntervalMs {
		errs = append(errs, fmt.Errorf("max_interval_ms (%v) must be greater than min_interval_ms (%v)", s.MaxIntervalMs, s.MinIntervalMs))
	}
	if s.LivePeakWindow < 2 || s.LivePeakWindow > 100 {
		errs = append(errs, fmt.Errorf("live_peak_window must be between 2 and 100, got %d", s.LivePeakWindow))
	}
	if s.MinSessionIntervals < 0 {
		errs = append(errs, fmt.Errorf("min_session_intervals must not be negative, got %d", s.MinSessionIntervals))
	}

	// Spectral band must sit below Nyquist
	if s.SpectrumMinHz <= 0 {
		errs = append(errs, fmt.Errorf("spectrum_min_hz must be positive, got %v", s.SpectrumMinHz))
	}
	if s.SpectrumMaxHz <= s.SpectrumMinHz {
		errs = append(errs, fmt.Errorf("spectrum_max_hz (%v) must be greater than spectrum_min_hz (%v)", s.SpectrumMaxHz, s.SpectrumMinHz))
	}
	if s.SpectrumMaxHz >= s.SamplingRate/2 {
		errs = append(errs, fmt.Errorf("spectrum_max_hz (%v Hz) must be less than Nyquist frequency (%v Hz)", s.SpectrumMaxHz, s.SamplingRate/2))
	}

	if s.InputColumn < 0 {
		errs = append(errs, fmt.Errorf("input_column must not be negative, got %d", s.InputColumn))
	}

	if s.AudioDevice < -1 {
		errs = append(errs, fmt.Errorf("audio_device must be -1 or a device index, got %d", s.AudioDevice))
	}
	if s.AudioSampleRate < 8000 || s.AudioSampleRate > 192000 {
		errs = append(errs, fmt.Errorf("audio_sample_rate must be between 8000 and 192000 Hz, got %d", s.AudioSampleRate))
	}

	// Delivery
	if s.NATSURL != "" {
		if strings.TrimSpace(s.NATSBPMSubject) == "" {
			errs = append(errs, errors.New("nats_bpm_subject must not be empty when nats_url is set"))
		}
		if strings.TrimSpace(s.NATSResultSubject) == "" {
			errs = append(errs, errors.New("nats_result_subject must not be empty when nats_url is set"))
		}
	}

	if _, err := logging.ParseLevel(s.LogLevel); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ProcessorConfig maps the settings onto the heart-rate core
func (s *Settings) ProcessorConfig() hrv.Config {
	return hrv.Config{
		SampleRate:          s.SamplingRate,
		MinPeakDistance:     s.MinPeakDistance,
		MinIntervalMs:       s.MinIntervalMs,
		MaxIntervalMs:       s.MaxIntervalMs,
		LivePeakWindow:      s.LivePeakWindow,
		MinSessionIntervals: s.MinSessionIntervals,
	}
}

// SpectrumConfig maps the settings onto the spectral cross-check
func (s *Settings) SpectrumConfig() dsp.SpectrumConfig {
	return dsp.SpectrumConfig{
		SampleRate: s.SamplingRate,
		MinHz:      s.SpectrumMinHz,
		MaxHz:      s.SpectrumMaxHz,
	}
}

// CSVConfig maps the settings onto the recording reader
func (s *Settings) CSVConfig() source.CSVConfig {
	return source.CSVConfig{Column: s.InputColumn, Header: s.InputHeader}
}

// AudioConfig maps the settings onto the line-in capture
func (s *Settings) AudioConfig() audio.Config {
	cfg := audio.DefaultConfig()
	cfg.DeviceIndex = s.AudioDevice
	cfg.SampleRate = s.AudioSampleRate
	cfg.FrameRate = s.SamplingRate
	return cfg
}

// NATSConfig maps the settings onto the publisher
func (s *Settings) NATSConfig() sink.NATSConfig {
	return sink.NATSConfig{BPMSubject: s.NATSBPMSubject, ResultSubject: s.NATSResultSubject}
}

// LoggingOptions maps the settings onto the logger setup
func (s *Settings) LoggingOptions() logging.Options {
	return logging.Options{Level: s.LogLevel, File: s.LogFile, Debug: s.Debug}
}
