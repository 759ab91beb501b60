// internal/session/dispatcher.go
// Package session drives a measurement from a sample source to result sinks.
package session

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ColonelBlimp/hrvmeter/internal/hrv"
	"github.com/ColonelBlimp/hrvmeter/internal/recovery"
)

// DefaultDispatchBuffer is the event queue length between the processor and the sinks
const DefaultDispatchBuffer = 64

type event struct {
	complete bool
	bpm      int
	result   hrv.Result
}

// Dispatcher moves processor output off the sampling goroutine. It implements
// hrv.Observer and delivers every event to its sinks, in order, from a single
// delivery goroutine.
//
// Live BPM updates are dropped when the queue is full; session results are
// never dropped. Close must be called after the last Process call.
type Dispatcher struct {
	sinks  []hrv.Observer
	logger *slog.Logger

	events    chan event
	done      chan struct{}
	dropped   atomic.Uint64
	closeOnce sync.Once
}

// NewDispatcher starts the delivery goroutine. A buffer of zero or less uses
// DefaultDispatchBuffer.
func NewDispatcher(buffer int, logger *slog.Logger, sinks ...hrv.Observer) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultDispatchBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		sinks:  sinks,
		logger: logger,
		events: make(chan event, buffer),
		done:   make(chan struct{}),
	}

	go func() {
		defer recovery.HandlePanicFunc(func() {
			close(d.done)
		})
		d.deliverLoop()
		close(d.done)
	}()

	return d
}

func (d *Dispatcher) deliverLoop() {
	for ev := range d.events {
		for _, s := range d.sinks {
			if ev.complete {
				s.OnSessionComplete(ev.result)
			} else {
				s.OnBPMUpdate(ev.bpm)
			}
		}
	}
}

// OnBPMUpdate queues a live BPM update without blocking.
func (d *Dispatcher) OnBPMUpdate(bpm int) {
	select {
	case d.events <- event{bpm: bpm}:
	default:
		if n := d.dropped.Add(1); n == 1 || n%100 == 0 {
			d.logger.Debug("bpm update dropped, sinks too slow", slog.Uint64("dropped", n))
		}
	}
}

// OnSessionComplete queues the session result, blocking until there is room.
func (d *Dispatcher) OnSessionComplete(result hrv.Result) {
	d.events <- event{complete: true, result: result}
}

// Close stops accepting events and waits until every queued event is delivered.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.events)
	})
	<-d.done
}

// Dropped returns the number of BPM updates discarded because the queue was full
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}
