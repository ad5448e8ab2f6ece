package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/harrylevesque/rtdevice/internal/models"
	"github.com/harrylevesque/rtdevice/internal/realtime"
)

const (
	DefaultConfigFile     = "rtdevice.json"
	DefaultListenAddr     = "127.0.0.1:8086"
	DefaultServiceTimeout = 100 * time.Millisecond
)

// RealtimeConfig holds session settings that do not come from the gateway.
type RealtimeConfig struct {
	Path                string `json:"path"`
	KeepAlive           bool   `json:"keepalive"`
	KeepAliveIntervalS  int    `json:"keepalive_interval_s"`
	ReconnectIntervalMS int    `json:"reconnect_interval_ms"`
	ServiceTimeoutMS    int    `json:"service_timeout_ms"`
}

// Config is the device agent configuration. Identity may be left empty when
// an identity has already been stored or IdentityFile points at one.
type Config struct {
	Identity     models.DeviceIdentity `json:"identity"`
	IdentityFile string                `json:"identity_file"`
	DataDir      string                `json:"data_dir"`
	Realtime     RealtimeConfig        `json:"realtime"`
	ListenAddr   string                `json:"listen_addr"`
	LogFile      string                `json:"log_file"`
	Debug        bool                  `json:"debug"`
}

// DefaultConfig returns the settings used for anything the file leaves out.
func DefaultConfig() Config {
	return Config{
		Identity: models.DeviceIdentity{
			AuthMode: models.AuthDynamicNoPreRegistered,
			TLS:      models.TLSPolicy{Verify: true},
		},
		Realtime: RealtimeConfig{
			Path:                realtime.DefaultPath,
			KeepAlive:           true,
			KeepAliveIntervalS:  realtime.DefaultKeepAliveInterval,
			ReconnectIntervalMS: int(realtime.DefaultReconnectInterval / time.Millisecond),
			ServiceTimeoutMS:    int(DefaultServiceTimeout / time.Millisecond),
		},
		ListenAddr: DefaultListenAddr,
	}
}

// LoadConfig reads path over the defaults and applies RTDEVICE_* overrides.
// A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"RTDEVICE_HTTP_HOST":     &c.Identity.HTTPHost,
		"RTDEVICE_INSTANCE_ID":   &c.Identity.InstanceID,
		"RTDEVICE_PRODUCT_KEY":   &c.Identity.ProductKey,
		"RTDEVICE_DEVICE_NAME":   &c.Identity.DeviceName,
		"RTDEVICE_CA_PATH":       &c.Identity.TLS.CAPath,
		"RTDEVICE_IDENTITY_FILE": &c.IdentityFile,
		"RTDEVICE_HOME":          &c.DataDir,
		"RTDEVICE_PATH":          &c.Realtime.Path,
		"RTDEVICE_LISTEN":        &c.ListenAddr,
		"RTDEVICE_LOG_FILE":      &c.LogFile,
	}
	for k, dst := range str {
		if v, ok := lookup(k); ok {
			*dst = v
		}
	}
	secrets := map[string]*models.Secret{
		"RTDEVICE_PRODUCT_SECRET": &c.Identity.ProductSecret,
		"RTDEVICE_DEVICE_SECRET":  &c.Identity.DeviceSecret,
	}
	for k, dst := range secrets {
		if v, ok := lookup(k); ok {
			*dst = models.NewSecret(v)
		}
	}
	bools := map[string]*bool{
		"RTDEVICE_VERIFY_TLS": &c.Identity.TLS.Verify,
		"RTDEVICE_KEEPALIVE":  &c.Realtime.KeepAlive,
		"RTDEVICE_DEBUG":      &c.Debug,
	}
	for k, dst := range bools {
		if v, ok := lookup(k); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			*dst = b
		}
	}
	ints := map[string]*int{
		"RTDEVICE_KEEPALIVE_INTERVAL_S":  &c.Realtime.KeepAliveIntervalS,
		"RTDEVICE_RECONNECT_INTERVAL_MS": &c.Realtime.ReconnectIntervalMS,
	}
	for k, dst := range ints {
		if v, ok := lookup(k); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			*dst = n
		}
	}
	if v, ok := lookup("RTDEVICE_AUTH_MODE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RTDEVICE_AUTH_MODE: %w", err)
		}
		c.Identity.AuthMode = models.AuthMode(n)
	}
	return nil
}

// Validate checks the settings that do not depend on the identity, which is
// validated once it has been resolved.
func (c Config) Validate() error {
	switch {
	case c.Realtime.KeepAlive && c.Realtime.KeepAliveIntervalS <= 0:
		return errors.New("realtime.keepalive_interval_s must be positive")
	case c.Realtime.ReconnectIntervalMS <= 0:
		return errors.New("realtime.reconnect_interval_ms must be positive")
	case c.Realtime.ServiceTimeoutMS <= 0:
		return errors.New("realtime.service_timeout_ms must be positive")
	case c.ListenAddr == "":
		return errors.New("listen_addr is required")
	}
	return nil
}

func (r RealtimeConfig) ReconnectInterval() time.Duration {
	return time.Duration(r.ReconnectIntervalMS) * time.Millisecond
}

func (r RealtimeConfig) ServiceTimeout() time.Duration {
	return time.Duration(r.ServiceTimeoutMS) * time.Millisecond
}
