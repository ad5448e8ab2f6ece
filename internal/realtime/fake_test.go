package realtime

import (
	"errors"
	"net/http"
	"sync"
	"time"
)

type write struct {
	data string
	kind FrameKind
}

// fakeTransport records calls and replays events queued by the test.
type fakeTransport struct {
	mu           sync.Mutex
	connects     []DialRequest
	headers      []http.Header
	writes       []write
	writableReqs int
	timers       []time.Duration
	closes       []int
	closeReasons []string
	destroyed    int
	events       []Event
	connectErr   error
	writeErr     error
	shortWrite   bool
	// holdHeaders leaves the header callback for the test to run later,
	// like a transport that builds headers on its dial goroutine.
	holdHeaders bool
}

func (f *fakeTransport) Connect(req DialRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connects = append(f.connects, req)
	if req.Header != nil && !f.holdHeaders {
		h, err := req.Header()
		if err != nil {
			f.events = append(f.events, Event{Kind: EventConnectionError, Err: err})
			return nil
		}
		f.headers = append(f.headers, h)
	}
	return nil
}

func (f *fakeTransport) Write(p []byte, kind FrameKind) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.writes = append(f.writes, write{data: string(p), kind: kind})
	if f.shortWrite {
		return len(p) - 1, nil
	}
	return len(p), nil
}

func (f *fakeTransport) RequestWritable() {
	f.mu.Lock()
	f.writableReqs++
	f.mu.Unlock()
}

func (f *fakeTransport) SetTimer(d time.Duration) {
	f.mu.Lock()
	f.timers = append(f.timers, d)
	f.mu.Unlock()
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, code)
	f.closeReasons = append(f.closeReasons, reason)
	return nil
}

func (f *fakeTransport) Service(time.Duration) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed > 0 {
		return nil, errors.New("destroyed")
	}
	ev := f.events
	f.events = nil
	return ev, nil
}

func (f *fakeTransport) Destroy() {
	f.mu.Lock()
	f.destroyed++
	f.mu.Unlock()
}

func (f *fakeTransport) push(ev ...Event) {
	f.mu.Lock()
	f.events = append(f.events, ev...)
	f.mu.Unlock()
}

func (f *fakeTransport) textWrites() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, w := range f.writes {
		if w.kind == FrameText {
			out = append(out, w.data)
		}
	}
	return out
}

func (f *fakeTransport) pings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, w := range f.writes {
		if w.kind == FramePing {
			n++
		}
	}
	return n
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects)
}
