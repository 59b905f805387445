package tunnel

import "sync"

// State is the lifecycle position of a tunnel session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateRegistered
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Event is a session notification: RequestCompleted, Disconnected or Closed.
type Event interface {
	isEvent()
}

// RequestCompleted is published after each forwarded request, whether or not
// the response could still be written back to the relay.
type RequestCompleted struct {
	Method     string
	Path       string
	Status     int
	DurationMs int64
	Replayed   bool
}

// Disconnected signals a lost channel that will be reconnected with backoff.
type Disconnected struct {
	Reason string
}

// Closed signals session teardown. Err is nil for an explicit Close and
// carries the relay's reason otherwise.
type Closed struct {
	Err error
}

func (RequestCompleted) isEvent() {}
func (Disconnected) isEvent()     {}
func (Closed) isEvent()           {}

// eventBuffer bounds each subscriber channel; a subscriber that stops
// draining loses events rather than blocking the manager.
const eventBuffer = 16

// Session is the handle handed to callers: current public URL, lifecycle
// events, explicit close and manual replay.
type Session struct {
	mgr *Manager

	mu      sync.Mutex
	url     string
	state   State
	subs    map[int]chan Event
	nextSub int
	done    bool
}

func newSession(mgr *Manager) *Session {
	return &Session{mgr: mgr, state: StateIdle, subs: make(map[int]chan Event)}
}

// URL returns the public URL, empty until the relay has registered the
// tunnel.
func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe returns a bounded event channel and an unsubscribe func. The
// channel is closed on unsubscribe and on session teardown.
func (s *Session) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Event, eventBuffer)
	if s.done {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
}

// Close tears down the active channel and suppresses reconnects. Closing an
// already-closed session is a no-op.
func (s *Session) Close() {
	s.mgr.stop()
}

// ReplayLast re-issues the most recently forwarded request against the local
// service under a fresh request id, without relay involvement. It returns
// ErrNoReplay when nothing has been forwarded yet.
func (s *Session) ReplayLast() error {
	return s.mgr.replayLast()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.state = st
}

func (s *Session) setURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = url
}

// publish delivers e to every subscriber without blocking; slow subscribers
// drop events.
func (s *Session) publish(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// finish marks the session terminal, emits Closed and closes all subscriber
// channels. Safe to call once, from the manager goroutine.
func (s *Session) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.state = StateClosed
	for id, ch := range s.subs {
		select {
		case ch <- Closed{Err: err}:
		default:
		}
		delete(s.subs, id)
		close(ch)
	}
}
