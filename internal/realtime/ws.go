package realtime

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harrylevesque/rtdevice/internal/utils"
)

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 15 * time.Second
	maxMessageSize   = 1 << 20
	eventBuffer      = 256
)

// ErrTransportClosed is returned once a transport has been destroyed.
var ErrTransportClosed = errors.New("transport destroyed")

type wsEvent struct {
	Event
	gen uint64
}

// WSTransport implements Transport over gorilla/websocket. A read pump per
// connection turns frames and errors into events; writes happen on the
// caller's goroutine.
type WSTransport struct {
	logger *utils.Logger

	events   chan wsEvent
	writable atomic.Bool
	gen      atomic.Uint64
	done     chan struct{}
	destroy  sync.Once

	mu      sync.Mutex // guards conn, timer and closing
	conn    *websocket.Conn
	timer   *time.Timer
	closing bool

	writeMu sync.Mutex
}

func NewWSTransport(logger *utils.Logger) *WSTransport {
	return &WSTransport{
		logger: logger.With("ws"),
		events: make(chan wsEvent, eventBuffer),
		done:   make(chan struct{}),
	}
}

func (t *WSTransport) emit(gen uint64, ev Event) {
	select {
	case t.events <- wsEvent{Event: ev, gen: gen}:
	case <-t.done:
	}
}

// Connect starts a dial in the background. Any previous connection is
// dropped and its pending events become stale.
func (t *WSTransport) Connect(req DialRequest) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	if req.URL == nil {
		return errors.New("no url to dial")
	}
	gen := t.gen.Add(1)

	t.mu.Lock()
	old := t.conn
	t.conn = nil
	t.closing = false
	t.mu.Unlock()
	if old != nil {
		old.Close()
	}

	dialer := &websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: handshakeTimeout,
		TLSClientConfig:  req.TLS,
	}
	target := req.URL.String()
	go func() {
		var header http.Header
		if req.Header != nil {
			h, err := req.Header()
			if err != nil {
				t.emit(gen, Event{Kind: EventConnectionError, Err: err})
				return
			}
			header = h
		}
		conn, resp, err := dialer.Dial(target, header)
		if err != nil {
			if resp != nil {
				err = errors.Join(err, errors.New("handshake status "+resp.Status))
			}
			t.emit(gen, Event{Kind: EventConnectionError, Err: err})
			return
		}
		t.mu.Lock()
		if t.gen.Load() != gen {
			t.mu.Unlock()
			conn.Close()
			return
		}
		t.conn = conn
		t.mu.Unlock()

		t.emit(gen, Event{Kind: EventEstablished})
		t.readPump(gen, conn)
	}()
	return nil
}

func (t *WSTransport) readPump(gen uint64, conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			byUs := t.closing && t.conn == conn
			if t.conn == conn {
				t.conn = nil
			}
			t.mu.Unlock()
			conn.Close()

			kind := EventClosed
			if byUs {
				kind = EventClientClosed
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !byUs {
				t.logger.Warnf("connection lost: %v", err)
			}
			t.emit(gen, Event{Kind: kind, Err: err})
			return
		}
		t.emit(gen, Event{Kind: EventReceive, Data: message})
	}
}

func (t *WSTransport) current() *websocket.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

func (t *WSTransport) Write(p []byte, kind FrameKind) (int, error) {
	conn := t.current()
	if conn == nil {
		return 0, net.ErrClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	var err error
	switch kind {
	case FramePing:
		err = conn.WriteControl(websocket.PingMessage, p, time.Now().Add(writeWait))
	default:
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		err = conn.WriteMessage(websocket.TextMessage, p)
	}
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// RequestWritable queues one Writable event. Requests made while one is
// already pending are coalesced.
func (t *WSTransport) RequestWritable() {
	if !t.writable.CompareAndSwap(false, true) {
		return
	}
	select {
	case t.events <- wsEvent{Event: Event{Kind: EventWritable}, gen: t.gen.Load()}:
	default:
		t.writable.Store(false)
	}
}

// SetTimer arms a one-shot Timer event after d. d <= 0 cancels it.
func (t *WSTransport) SetTimer(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if d <= 0 {
		return
	}
	gen := t.gen.Load()
	t.timer = time.AfterFunc(d, func() { t.emit(gen, Event{Kind: EventTimer}) })
}

// Close starts the closing handshake. The read pump reports the outcome.
func (t *WSTransport) Close(code int, reason string) error {
	t.mu.Lock()
	conn := t.conn
	if conn != nil {
		t.closing = true
	}
	t.mu.Unlock()
	if conn == nil {
		return net.ErrClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	return conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (t *WSTransport) Service(timeout time.Duration) ([]Event, error) {
	var timeoutC <-chan time.Time
	if timeout > 0 {
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		timeoutC = tm.C
	}
	var out []Event
	select {
	case ev := <-t.events:
		out = t.accept(out, ev)
	case <-timeoutC:
		return nil, nil
	case <-t.done:
		return nil, ErrTransportClosed
	}
	for {
		select {
		case ev := <-t.events:
			out = t.accept(out, ev)
		default:
			return out, nil
		}
	}
}

func (t *WSTransport) accept(out []Event, ev wsEvent) []Event {
	if ev.Kind == EventWritable {
		t.writable.Store(false)
	}
	if ev.gen != t.gen.Load() {
		return out
	}
	return append(out, ev.Event)
}

// Destroy releases the connection and stops all background work.
func (t *WSTransport) Destroy() {
	t.destroy.Do(func() {
		close(t.done)
		t.gen.Add(1)
		t.mu.Lock()
		if t.timer != nil {
			t.timer.Stop()
		}
		conn := t.conn
		t.conn = nil
		t.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	})
}
