package realtime

import (
	"errors"
	"testing"
	"time"

	"github.com/harrylevesque/rtdevice/internal/auth"
	"github.com/harrylevesque/rtdevice/internal/models"
	"github.com/harrylevesque/rtdevice/internal/utils"
)

func TestEndpoint(t *testing.T) {
	cases := []struct {
		url, path, want string
	}{
		{"wss://example/", "", "wss://example/"},
		{"https://gw.example.com", DefaultPath, "wss://gw.example.com/v1/realtime?model=AG-voice-chat-agent"},
		{"http://127.0.0.1:8080/base/", "/v1/realtime", "ws://127.0.0.1:8080/base/v1/realtime"},
		{"WS://host", "/a?b=c", "ws://host/a?b=c"},
	}
	for _, tc := range cases {
		u, err := ConnectionConfig{URL: tc.url, Path: tc.path}.Endpoint()
		if err != nil {
			t.Fatalf("%s%s: %v", tc.url, tc.path, err)
		}
		if u.String() != tc.want {
			t.Fatalf("%s%s = %q, want %q", tc.url, tc.path, u.String(), tc.want)
		}
	}

	for _, bad := range []string{"", "ftp://host", "wss://", "://"} {
		if _, err := (ConnectionConfig{URL: bad}).Endpoint(); !errors.Is(err, utils.ErrInvalidParam) {
			t.Fatalf("%q: expected invalid param, got %v", bad, err)
		}
	}
}

func TestConfigBuilder(t *testing.T) {
	cfg, err := NewConfig().URL("wss://gw").APIKey("ak").KeepAlive(true, 10).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if cfg.Path != DefaultPath || cfg.ReconnectInterval != DefaultReconnectInterval || !cfg.VerifyTLS {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if !cfg.KeepAlive || cfg.KeepAliveInterval != 10 || cfg.APIKey.Value() != "ak" {
		t.Fatalf("values not applied: %+v", cfg)
	}

	bad := map[string]*ConfigBuilder{
		"url":       NewConfig().URL("gopher://x"),
		"path":      NewConfig().Path("no-slash"),
		"api key":   NewConfig().APIKey(""),
		"interval":  NewConfig().ReconnectInterval(-time.Second),
		"keepalive": NewConfig().KeepAlive(true, 0),
	}
	for name, b := range bad {
		if _, err := b.URL("wss://ok").Build(); !errors.Is(err, utils.ErrInvalidParam) {
			t.Fatalf("%s: expected invalid param, got %v", name, err)
		}
	}
}

func TestConfigFromGateway(t *testing.T) {
	gw := &auth.GatewayConfig{URL: "wss://gw.example.com", APIKey: models.NewSecret("ak-realtime")}
	id := &models.DeviceIdentity{TLS: models.TLSPolicy{Verify: false, CAPath: "/etc/ca.pem"}}
	cfg, err := ConfigFromGateway(gw, id).KeepAlive(true, 30).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	gw.Destroy()
	if cfg.APIKey.Value() != "ak-realtime" {
		t.Fatalf("api key shares memory with the gateway config")
	}
	if cfg.URL != "wss://gw.example.com" || cfg.Path != DefaultPath || cfg.VerifyTLS || cfg.CAPath != "/etc/ca.pem" {
		t.Fatalf("cfg = %+v", cfg)
	}

	if _, err := ConfigFromGateway(&auth.GatewayConfig{URL: "wss://gw"}, nil).Build(); !errors.Is(err, utils.ErrInvalidParam) {
		t.Fatalf("missing key accepted: %v", err)
	}
	if _, err := ConfigFromGateway(nil, nil).Build(); err == nil {
		t.Fatalf("nil gateway config accepted")
	}
}

func TestRing(t *testing.T) {
	r := newRing(2)
	if !r.push(outbound{payload: []byte("a")}) || !r.push(outbound{payload: []byte("b")}) {
		t.Fatalf("push into empty ring failed")
	}
	if r.push(outbound{payload: []byte("c")}) {
		t.Fatalf("push into full ring succeeded")
	}
	m, _ := r.peek()
	r.pop()
	if string(m.payload) != "a" {
		t.Fatalf("peek = %q", m.payload)
	}
	if !r.push(outbound{payload: []byte("c")}) {
		t.Fatalf("push after pop failed")
	}
	for _, want := range []string{"b", "c"} {
		m, ok := r.peek()
		if !ok || string(m.payload) != want {
			t.Fatalf("peek = %q, want %q", m.payload, want)
		}
		r.pop()
	}
	if _, ok := r.peek(); ok || r.Len() != 0 {
		t.Fatalf("ring not empty")
	}

	buf := []byte("secret")
	r.push(outbound{payload: buf})
	r.clear()
	if r.Len() != 0 || string(buf) != "\x00\x00\x00\x00\x00\x00" {
		t.Fatalf("clear did not wipe payload")
	}
}
