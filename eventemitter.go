package mediasoup

import (
	"fmt"
	"reflect"
	"sync"
)

// IEventEmitter is the event-emitter substrate every control object in
// this package embeds. Listeners are arbitrary functions invoked by
// reflection, which lets callers register `func()`, `func(score
// *ConsumerScore)`, `func(event string, data []byte)`, and so on,
// mirroring the dynamically-typed listener style of the source this
// package is a Go rendition of.
type IEventEmitter interface {
	On(event string, listener interface{}) IEventEmitter
	Once(event string, listener interface{}) IEventEmitter
	Off(event string, listener interface{}) IEventEmitter
	RemoveAllListeners(event ...string) IEventEmitter
	Emit(event string, args ...interface{}) error
	SafeEmit(event string, args ...interface{}) bool
	ListenerCount(event string) int
}

type listenerRecord struct {
	fn   reflect.Value
	once bool
}

// EventEmitter is the concrete, unrestricted-listener-count
// implementation of IEventEmitter. The zero value is not usable; use
// NewEventEmitter.
type EventEmitter struct {
	mu        sync.Mutex
	listeners map[string][]*listenerRecord
}

// NewEventEmitter returns a ready-to-use EventEmitter.
func NewEventEmitter() IEventEmitter {
	return &EventEmitter{listeners: make(map[string][]*listenerRecord)}
}

func (e *EventEmitter) On(event string, listener interface{}) IEventEmitter {
	e.add(event, listener, false)
	return e
}

func (e *EventEmitter) Once(event string, listener interface{}) IEventEmitter {
	e.add(event, listener, true)
	return e
}

func (e *EventEmitter) add(event string, listener interface{}, once bool) {
	fn := reflect.ValueOf(listener)
	if fn.Kind() != reflect.Func {
		panic("mediasoup: listener must be a function")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[event] = append(e.listeners[event], &listenerRecord{fn: fn, once: once})
}

// Off removes a specific listener from event, or every listener on
// event if listener is nil.
func (e *EventEmitter) Off(event string, listener interface{}) IEventEmitter {
	e.mu.Lock()
	defer e.mu.Unlock()

	if listener == nil {
		delete(e.listeners, event)
		return e
	}

	target := reflect.ValueOf(listener).Pointer()
	records := e.listeners[event]
	filtered := records[:0:0]
	for _, r := range records {
		if r.fn.Pointer() != target {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) == 0 {
		delete(e.listeners, event)
	} else {
		e.listeners[event] = filtered
	}
	return e
}

// RemoveAllListeners removes listeners for the given events, or every
// event if none are given.
func (e *EventEmitter) RemoveAllListeners(event ...string) IEventEmitter {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(event) == 0 {
		e.listeners = make(map[string][]*listenerRecord)
		return e
	}
	for _, ev := range event {
		delete(e.listeners, ev)
	}
	return e
}

func (e *EventEmitter) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[event])
}

// snapshot returns the listener list for event and, for each "once"
// listener found, removes it from the registry before returning -
// re-entrant mutation of the listener list during emit takes effect on
// the next emit, never the current one.
func (e *EventEmitter) snapshot(event string) []*listenerRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	records := e.listeners[event]
	if len(records) == 0 {
		return nil
	}

	out := make([]*listenerRecord, len(records))
	copy(out, records)

	remaining := records[:0:0]
	for _, r := range records {
		if !r.once {
			remaining = append(remaining, r)
		}
	}
	if len(remaining) == 0 {
		delete(e.listeners, event)
	} else {
		e.listeners[event] = remaining
	}

	return out
}

// Emit invokes every listener registered for event, in registration
// order, with args. If a listener panics or returns a non-nil error as
// its last return value, Emit stops and returns that failure to the
// caller.
func (e *EventEmitter) Emit(event string, args ...interface{}) (err error) {
	for _, r := range e.snapshot(event) {
		if err = callListener(r.fn, args); err != nil {
			return err
		}
	}
	return nil
}

// SafeEmit behaves like Emit but never lets a listener failure
// propagate: panics and errors are swallowed. It returns true iff at
// least one listener was registered for event.
func (e *EventEmitter) SafeEmit(event string, args ...interface{}) bool {
	records := e.snapshot(event)
	for _, r := range records {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error(fmt.Errorf("%v", rec), "safeEmit() listener panicked", "event", event)
				}
			}()
			if err := callListener(r.fn, args); err != nil {
				logger.Error(err, "safeEmit() listener returned error", "event", event)
			}
		}()
	}
	return len(records) > 0
}

// callListener adapts the emitted args to the listener's declared
// parameter types: missing trailing args are zero-valued, extra args
// are dropped, and a final error return value (if any) is surfaced.
func callListener(fn reflect.Value, args []interface{}) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("mediasoup: listener panicked: %v", rec)
		}
	}()

	t := fn.Type()
	numIn := t.NumIn()
	in := make([]reflect.Value, numIn)

	for i := 0; i < numIn; i++ {
		paramType := t.In(i)
		if i < len(args) && args[i] != nil {
			v := reflect.ValueOf(args[i])
			if v.Type().AssignableTo(paramType) {
				in[i] = v
			} else if v.Type().ConvertibleTo(paramType) {
				in[i] = v.Convert(paramType)
			} else {
				in[i] = reflect.Zero(paramType)
			}
		} else {
			in[i] = reflect.Zero(paramType)
		}
	}

	out := fn.Call(in)
	if len(out) > 0 {
		last := out[len(out)-1]
		if last.Type().Implements(reflect.TypeOf((*error)(nil)).Elem()) && !last.IsNil() {
			err, _ = last.Interface().(error)
		}
	}
	return err
}
