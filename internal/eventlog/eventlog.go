// Package eventlog is the bounded async action-log sink: a single worker
// drains a fixed-capacity queue of structured events; on overflow the event
// is logged synchronously with dropped=true and otherwise discarded.
package eventlog

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Event is an internal observability record.
type Event struct {
	Level   log.Level
	Module  string
	Action  string
	Result  string
	Details map[string]any
}

// Sink owns the bounded queue and its single drain worker.
type Sink struct {
	queue    chan Event
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// defaultCapacity is the default bounded queue size.
const defaultCapacity = 1000

// New starts a Sink with the given queue capacity (<=0 uses the default) and
// begins draining immediately.
func New(capacity int) *Sink {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	s := &Sink{
		queue:  make(chan Event, capacity),
		stopCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

// Log enqueues an event without blocking. On a full queue the event is
// logged synchronously, annotated dropped=true, and discarded — producers
// never block.
func (s *Sink) Log(module, action, result string, level log.Level, details map[string]any) {
	evt := Event{Level: level, Module: module, Action: action, Result: result, Details: details}
	select {
	case s.queue <- evt:
	default:
		s.emit(evt, true)
	}
}

// Info is a convenience wrapper for the common case.
func (s *Sink) Info(module, action, result string, details map[string]any) {
	s.Log(module, action, result, log.InfoLevel, details)
}

// Warn is a convenience wrapper for warning-level events.
func (s *Sink) Warn(module, action, result string, details map[string]any) {
	s.Log(module, action, result, log.WarnLevel, details)
}

func (s *Sink) worker() {
	defer s.wg.Done()
	for {
		select {
		case evt, ok := <-s.queue:
			if !ok {
				return
			}
			s.emit(evt, false)
		case <-s.stopCh:
			// Drain whatever remains without blocking further sends.
			for {
				select {
				case evt := <-s.queue:
					s.emit(evt, false)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) emit(evt Event, dropped bool) {
	fields := log.Fields{"module": evt.Module, "action": evt.Action, "result": evt.Result}
	for k, v := range evt.Details {
		fields[k] = v
	}
	entry := log.WithFields(fields)
	if dropped {
		entry = entry.WithField("dropped", true)
		entry.Warn("event queue full, event logged synchronously and discarded")
		return
	}
	entry.Log(evt.Level, "proxy event")
}

// Close signals the worker to stop and waits for it to finish flushing
// whatever is already queued. Events logged after Close are not emitted
// unless the queue is full. Mirrors the original's sentinel-message-plus-join
// shutdown.
func (s *Sink) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}
