// internal/sink/nats.go
// Package sink delivers session output outside the process.
package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ColonelBlimp/hrvmeter/internal/hrv"
)

// Default subjects
const (
	DefaultBPMSubject    = "hrv.bpm"
	DefaultResultSubject = "hrv.session"
)

// ErrEmptySubject indicates a publish subject was not configured
var ErrEmptySubject = errors.New("nats subject must not be empty")

// Publisher is the part of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// BPMMessage is published for every live BPM update.
type BPMMessage struct {
	Ts  int64 `json:"ts"`
	BPM int   `json:"bpm"`
}

// ResultMessage is published once per session.
type ResultMessage struct {
	Ts        int64    `json:"ts"`
	Valid     bool     `json:"valid"`
	RMSSD     *float64 `json:"rmssd,omitempty"`
	AverageHR *int     `json:"average_hr,omitempty"`
}

// NATSConfig holds the publish subjects (from config: nats_bpm_subject, nats_result_subject).
type NATSConfig struct {
	BPMSubject    string
	ResultSubject string
}

// NATSSink publishes session output as JSON. It implements hrv.Observer.
// Publish errors are logged: a broker outage must not stop a measurement.
type NATSSink struct {
	pub    Publisher
	config NATSConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewNATSSink wraps a publisher, usually a *nats.Conn.
func NewNATSSink(pub Publisher, cfg NATSConfig, logger *slog.Logger) (*NATSSink, error) {
	if cfg.BPMSubject == "" || cfg.ResultSubject == "" {
		return nil, ErrEmptySubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSSink{pub: pub, config: cfg, logger: logger, now: time.Now}, nil
}

// Connect dials a NATS server with reconnect settings suited to a long session.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(
		url,
		nats.Name("hrvmeter"),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

func (s *NATSSink) OnBPMUpdate(bpm int) {
	s.publish(s.config.BPMSubject, BPMMessage{Ts: s.now().UnixMilli(), BPM: bpm})
}

func (s *NATSSink) OnSessionComplete(result hrv.Result) {
	msg := ResultMessage{Ts: s.now().UnixMilli(), Valid: result.Valid()}
	if result.HasRMSSD {
		rmssd := result.RMSSD
		msg.RMSSD = &rmssd
	}
	if result.HasAverageHR {
		hr := result.AverageHR
		msg.AverageHR = &hr
	}
	s.publish(s.config.ResultSubject, msg)
}

func (s *NATSSink) publish(subject string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("encode message", slog.String("subject", subject), slog.String("err", err.Error()))
		return
	}
	if err := s.pub.Publish(subject, data); err != nil {
		s.logger.Warn("publish failed", slog.String("subject", subject), slog.String("err", err.Error()))
	}
}
