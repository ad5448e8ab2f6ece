package realtime

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"time"
)

// EventKind enumerates what a Transport reports to the client.
type EventKind int

const (
	EventEstablished EventKind = iota + 1
	EventConnectionError
	EventClosed
	EventClientClosed
	EventReceive
	EventWritable
	EventTimer
)

func (k EventKind) String() string {
	switch k {
	case EventEstablished:
		return "established"
	case EventConnectionError:
		return "connection_error"
	case EventClosed:
		return "closed"
	case EventClientClosed:
		return "client_closed"
	case EventReceive:
		return "receive"
	case EventWritable:
		return "writable"
	case EventTimer:
		return "timer"
	}
	return "unknown"
}

// Event is delivered by Transport.Service. Data is set for EventReceive,
// Err for EventConnectionError and, when known, for closes.
type Event struct {
	Kind EventKind
	Data []byte
	Err  error
}

// FrameKind selects the websocket frame type of a write.
type FrameKind int

const (
	FrameText FrameKind = iota
	FramePing
)

// HeaderFunc builds the handshake headers for one connection attempt. It is
// called once per attempt, right before the handshake.
type HeaderFunc func() (http.Header, error)

// DialRequest is everything a Transport needs to open a connection.
type DialRequest struct {
	URL    *url.URL
	TLS    *tls.Config
	Header HeaderFunc
}

// Transport is the connection engine under the session client. Connect
// returns once a connection attempt is under way; its outcome arrives later
// as an event from Service.
//
// RequestWritable may be called from any goroutine. Every other method is
// called from the goroutine running the event loop, except Close, which
// may also come from Disconnect.
type Transport interface {
	Connect(req DialRequest) error
	Write(p []byte, kind FrameKind) (int, error)
	RequestWritable()
	SetTimer(d time.Duration)
	Close(code int, reason string) error
	// Service waits up to timeout for events and returns what is pending.
	Service(timeout time.Duration) ([]Event, error)
	Destroy()
}
