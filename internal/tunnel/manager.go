package tunnel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matst80/burrow/internal/forward"
	"github.com/matst80/burrow/internal/obs"
	"github.com/matst80/burrow/internal/proto"
	"github.com/matst80/burrow/internal/replay"
)

// registerTimeout bounds the first connect attempt: if no "registered" frame
// arrives within it the tunnel request fails. Reconnect attempts after a
// successful registration rely on backoff alone.
const registerTimeout = 15 * time.Second

var log = obs.Component("tunnel")

var (
	// ErrClosed is returned when writing to a channel epoch that has been
	// torn down.
	ErrClosed = errors.New("tunnel: channel closed")
	// ErrNoReplay is returned by ReplayLast before anything was forwarded.
	ErrNoReplay = errors.New("tunnel: no request to replay")
)

// Config describes a tunnel to open.
type Config struct {
	// Relay is the control channel endpoint, e.g. "wss://relay.example.dev/register".
	Relay string
	// Port of the local service to expose. Required.
	Port int
	// LocalHost defaults to "localhost".
	LocalHost string
	// LocalTLS selects https for the local leg.
	LocalTLS bool
	// ForwardTimeout overrides the per-request forward timeout (0 = default).
	ForwardTimeout time.Duration
	// Dialer overrides the websocket dialer (tests).
	Dialer *websocket.Dialer
}

// Manager owns the control-channel lifecycle: connect, register, receive,
// reconnect with backoff, teardown. All channel and backoff state is mutated
// only by its run goroutine.
type Manager struct {
	relay     string
	target    forward.Target
	forwarder *forward.Forwarder
	history   *replay.Buffer
	dialer    *websocket.Dialer
	session   *Session

	backoff *backoff

	regOnce sync.Once
	regCh   chan error

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	mu         sync.Mutex
	epoch      *channelEpoch
	registered bool
}

// channelEpoch is one control channel's lifetime. Each reconnect discards
// the old epoch and creates a new one; forwards hold a reference to the
// epoch they arrived on so a response for a dead channel is simply dropped.
type channelEpoch struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func (e *channelEpoch) send(m proto.Message) error {
	data, err := proto.Encode(m)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return e.conn.WriteMessage(websocket.TextMessage, data)
}

func (e *channelEpoch) shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	_ = e.conn.Close()
}

// Open connects to the relay and blocks until the tunnel is registered. It
// fails with the relay's message on an error frame, and with a timeout error
// if no registration completes within 15 seconds.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("tunnel: port must be a positive integer, got %d", cfg.Port)
	}
	if cfg.Relay == "" {
		return nil, errors.New("tunnel: relay endpoint is required")
	}
	host := cfg.LocalHost
	if host == "" {
		host = "localhost"
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: registerTimeout}
	}

	m := &Manager{
		relay:     cfg.Relay,
		target:    forward.Target{Host: host, Port: cfg.Port, TLS: cfg.LocalTLS},
		forwarder: forward.New(cfg.ForwardTimeout),
		history:   replay.New(),
		dialer:    dialer,
		backoff:   newBackoff(),
		regCh:     make(chan error, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	m.session = newSession(m)

	go m.run()

	select {
	case err := <-m.regCh:
		if err != nil {
			m.stop()
			return nil, err
		}
		return m.session, nil
	case <-time.After(registerTimeout):
		m.stop()
		return nil, fmt.Errorf("tunnel: no registration from relay within %s", registerTimeout)
	case <-ctx.Done():
		m.stop()
		return nil, ctx.Err()
	}
}

// run is the single controller goroutine. It loops over channel lifetimes
// until a fatal condition or an explicit stop.
func (m *Manager) run() {
	defer close(m.doneCh)
	var closeErr error
	for {
		fatal, err := m.runOnce()
		if m.stopping() {
			break
		}
		if fatal {
			m.reportRegistration(err)
			closeErr = err
			break
		}
		m.session.setState(StateConnecting)
		m.session.publish(Disconnected{Reason: errString(err)})
		obs.SessionUp.Set(0)
		obs.ReconnectsTotal.Inc()
		delay := m.backoff.next()
		log.Info("channel.reconnect", obs.Fields{"attempt": m.backoff.attempt, "delay_ms": delay.Milliseconds(), "err": errString(err)})
		select {
		case <-time.After(delay):
		case <-m.stopCh:
		}
		if m.stopping() {
			break
		}
	}
	obs.SessionUp.Set(0)
	m.session.finish(closeErr)
	log.Info("session.closed", obs.Fields{"err": errString(closeErr)})
}

// runOnce drives one control channel from dial to loss. fatal is true for
// conditions that must terminate the session instead of reconnecting.
func (m *Manager) runOnce() (fatal bool, err error) {
	m.session.setState(StateConnecting)
	conn, _, err := m.dialer.Dial(m.relay, nil)
	if err != nil {
		return !m.everRegistered(), fmt.Errorf("dial relay: %w", err)
	}

	ep := &channelEpoch{conn: conn}
	m.setEpoch(ep)
	defer ep.shutdown()

	// Unblock the read loop when stop is requested while this epoch is live.
	watch := make(chan struct{})
	defer close(watch)
	go func() {
		select {
		case <-m.stopCh:
			ep.shutdown()
		case <-watch:
		}
	}()

	m.session.setState(StateOpen)
	log.Info("channel.open", obs.Fields{"relay": m.relay})

	for {
		// ReadMessage also drives the connection's default ping handler,
		// which answers relay pings with pongs to keep the channel alive.
		_, data, err := conn.ReadMessage()
		if err != nil {
			if m.stopping() {
				return false, nil
			}
			return !m.everRegistered(), fmt.Errorf("read channel: %w", err)
		}
		msg, ok := proto.Decode(data)
		if !ok {
			obs.DroppedFramesTotal.Inc()
			log.Debug("frame.drop", obs.Fields{"bytes": len(data)})
			continue
		}
		switch v := msg.(type) {
		case *proto.Registered:
			m.markRegistered(v)
		case *proto.ErrorMsg:
			return true, fmt.Errorf("relay error: %s", v.Message)
		case *proto.Request:
			m.history.Record(v)
			go m.handleRequest(ep, v)
		case *proto.Response:
			// The relay never sends responses; drop.
			obs.DroppedFramesTotal.Inc()
		}
	}
}

func (m *Manager) markRegistered(reg *proto.Registered) {
	m.mu.Lock()
	m.registered = true
	m.mu.Unlock()
	m.backoff.reset()
	m.session.setURL(reg.URL)
	m.session.setState(StateRegistered)
	obs.SessionUp.Set(1)
	log.Info("session.registered", obs.Fields{"subdomain": reg.Subdomain, "url": reg.URL})
	m.reportRegistration(nil)
}

// handleRequest forwards one inbound request. Forwards run concurrently and
// unordered; there is deliberately no concurrency bound here. An in-flight
// forward is never cancelled by channel loss: it completes (or times out)
// and its response is dropped if the originating epoch is gone.
func (m *Manager) handleRequest(ep *channelEpoch, req *proto.Request) {
	start := time.Now()
	resp := m.forwarder.Forward(context.Background(), m.target, req)
	if err := ep.send(resp); err != nil {
		obs.DroppedResponsesTotal.Inc()
		log.Debug("response.drop", obs.Fields{"requestId": req.RequestID, "err": err.Error()})
	}
	m.session.publish(RequestCompleted{
		Method:     req.Method,
		Path:       req.Path,
		Status:     resp.Status,
		DurationMs: time.Since(start).Milliseconds(),
	})
}

func (m *Manager) replayLast() error {
	last := m.history.Latest()
	if last == nil {
		return ErrNoReplay
	}
	req := replay.Replayable(last)
	obs.ReplaysTotal.Inc()
	log.Info("replay.start", obs.Fields{"requestId": req.RequestID, "method": req.Method, "path": req.Path})
	start := time.Now()
	resp := m.forwarder.Forward(context.Background(), m.target, req)
	m.session.publish(RequestCompleted{
		Method:     req.Method,
		Path:       req.Path,
		Status:     resp.Status,
		DurationMs: time.Since(start).Milliseconds(),
		Replayed:   true,
	})
	return nil
}

// stop requests teardown: the active epoch is closed, reconnects are
// suppressed and the run goroutine is awaited. Idempotent.
func (m *Manager) stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.mu.Lock()
		ep := m.epoch
		m.mu.Unlock()
		if ep != nil {
			ep.shutdown()
		}
	})
	<-m.doneCh
}

func (m *Manager) stopping() bool {
	select {
	case <-m.stopCh:
		return true
	default:
		return false
	}
}

func (m *Manager) setEpoch(ep *channelEpoch) {
	m.mu.Lock()
	m.epoch = ep
	m.mu.Unlock()
}

func (m *Manager) everRegistered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registered
}

// reportRegistration delivers the first registration outcome to Open exactly
// once; later calls are no-ops.
func (m *Manager) reportRegistration(err error) {
	m.regOnce.Do(func() { m.regCh <- err })
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
