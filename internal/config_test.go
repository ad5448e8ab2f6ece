package internal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harrylevesque/rtdevice/internal/models"
	"github.com/harrylevesque/rtdevice/internal/realtime"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Realtime.Path != realtime.DefaultPath || !cfg.Realtime.KeepAlive || cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if !cfg.Identity.TLS.Verify || cfg.Identity.AuthMode != models.AuthDynamicNoPreRegistered {
		t.Fatalf("identity defaults: %+v", cfg.Identity)
	}
	if cfg.Realtime.ReconnectInterval() != realtime.DefaultReconnectInterval {
		t.Fatalf("reconnect interval = %v", cfg.Realtime.ReconnectInterval())
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rtdevice.json")
	body := `{
		"identity": {"http_host": "iot.example.com", "product_key": "pk", "device_name": "dev", "product_secret": "ps"},
		"realtime": {"keepalive": false, "reconnect_interval_ms": 2500},
		"listen_addr": ":9000"
	}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RTDEVICE_DEVICE_NAME", "dev-env")
	t.Setenv("RTDEVICE_VERIFY_TLS", "false")
	t.Setenv("RTDEVICE_AUTH_MODE", "-1")
	t.Setenv("RTDEVICE_DEVICE_SECRET", "ds")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	id := cfg.Identity
	if id.HTTPHost != "iot.example.com" || id.DeviceName != "dev-env" || id.TLS.Verify || id.AuthMode != models.AuthDeviceSecret {
		t.Fatalf("identity = %+v", id)
	}
	if id.ProductSecret.Value() != "ps" || id.DeviceSecret.Value() != "ds" {
		t.Fatalf("secrets not loaded")
	}
	if cfg.Realtime.KeepAlive || cfg.Realtime.ReconnectInterval() != 2500*time.Millisecond || cfg.ListenAddr != ":9000" {
		t.Fatalf("realtime = %+v listen = %s", cfg.Realtime, cfg.ListenAddr)
	}
	if cfg.Realtime.ServiceTimeout() != DefaultServiceTimeout {
		t.Fatalf("unset field lost its default")
	}
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte("{"), 0600)
	if _, err := LoadConfig(bad); err == nil {
		t.Fatalf("malformed file accepted")
	}

	zero := filepath.Join(dir, "zero.json")
	os.WriteFile(zero, []byte(`{"realtime":{"reconnect_interval_ms":0}}`), 0600)
	if _, err := LoadConfig(zero); err == nil {
		t.Fatalf("zero reconnect interval accepted")
	}

	t.Setenv("RTDEVICE_KEEPALIVE", "maybe")
	if _, err := LoadConfig(filepath.Join(dir, "none.json")); err == nil {
		t.Fatalf("bad bool override accepted")
	}
}
