package transport

import (
	"sync"

	"github.com/opd-ai/peercall/media"
)

// Events holds the stream, close and error events of a CallHandle and
// replays ones that fired before a handler was registered. Each event fires
// at most once; nothing fires after close.
type Events struct {
	mu       sync.Mutex
	stream   *media.Stream
	err      error
	closed   bool
	onStream func(*media.Stream)
	onClose  func()
	onError  func(error)
}

// OnStream registers fn, replaying an earlier stream event.
func (e *Events) OnStream(fn func(*media.Stream)) {
	e.mu.Lock()
	e.onStream = fn
	s := e.stream
	e.mu.Unlock()
	if s != nil && fn != nil {
		fn(s)
	}
}

// OnClose registers fn, replaying an earlier close.
func (e *Events) OnClose(fn func()) {
	e.mu.Lock()
	e.onClose = fn
	closed := e.closed
	e.mu.Unlock()
	if closed && fn != nil {
		fn()
	}
}

// OnError registers fn, replaying an earlier error.
func (e *Events) OnError(fn func(error)) {
	e.mu.Lock()
	e.onError = fn
	err := e.err
	e.mu.Unlock()
	if err != nil && fn != nil {
		fn(err)
	}
}

// EmitStream fires the stream event. It reports whether the event fired.
func (e *Events) EmitStream(s *media.Stream) bool {
	e.mu.Lock()
	if e.stream != nil || e.closed || s == nil {
		e.mu.Unlock()
		return false
	}
	e.stream = s
	fn := e.onStream
	e.mu.Unlock()
	if fn != nil {
		fn(s)
	}
	return true
}

// EmitError fires the error event. It reports whether the event fired.
func (e *Events) EmitError(err error) bool {
	e.mu.Lock()
	if e.err != nil || e.closed || err == nil {
		e.mu.Unlock()
		return false
	}
	e.err = err
	fn := e.onError
	e.mu.Unlock()
	if fn != nil {
		fn(err)
	}
	return true
}

// EmitClose fires the close event. It reports whether the event fired.
func (e *Events) EmitClose() bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.closed = true
	fn := e.onClose
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
	return true
}

// Closed reports whether the close event fired.
func (e *Events) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
