package audit

import (
	"log/slog"
	"sync"
	"time"
)

// Sink persists events. Implementations must make each write all-or-nothing:
// a record either fully appears or not at all.
type Sink interface {
	Write(evt *Event) error
	Close() error
}

// Recorder appends events through a single writer goroutine, so producers
// enqueue without blocking on sink I/O and writes per sink stay serialized.
// Events from one producer keep their enqueue order, which preserves the
// decision-before-outcome guarantee per request.
type Recorder struct {
	sink    Sink
	logger  *slog.Logger
	events  chan *Event
	done    chan struct{}
	now     func() time.Time
	closeMu sync.Mutex
	closed  bool
}

// queueDepth bounds buffered events. When the queue is full the producer
// blocks rather than dropping: losing audit records is worse than briefly
// applying backpressure.
const queueDepth = 1024

// NewRecorder starts the writer goroutine over the given sink.
func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		sink:   sink,
		logger: logger,
		events: make(chan *Event, queueDepth),
		done:   make(chan struct{}),
		now:    time.Now,
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	for evt := range r.events {
		if err := r.sink.Write(evt); err != nil {
			r.logger.Error("audit write failed",
				slog.String("request_id", evt.RequestID),
				slog.String("stage", string(evt.Stage)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Record enqueues one event. The event is stamped and must not be mutated by
// the caller afterwards.
func (r *Recorder) Record(evt *Event) {
	evt.stamp(r.now())
	r.closeMu.Lock()
	if r.closed {
		r.closeMu.Unlock()
		return
	}
	r.events <- evt
	r.closeMu.Unlock()
}

// Close drains pending events and closes the sink.
func (r *Recorder) Close() error {
	r.closeMu.Lock()
	if r.closed {
		r.closeMu.Unlock()
		return nil
	}
	r.closed = true
	close(r.events)
	r.closeMu.Unlock()

	<-r.done
	return r.sink.Close()
}
