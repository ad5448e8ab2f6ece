package realtime

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/harrylevesque/rtdevice/internal/auth"
	"github.com/harrylevesque/rtdevice/internal/models"
	"github.com/harrylevesque/rtdevice/internal/utils"
)

const (
	// DefaultPath is the gateway's realtime endpoint.
	DefaultPath = "/v1/realtime?model=AG-voice-chat-agent"

	DefaultReconnectInterval = 5 * time.Second
	DefaultKeepAliveInterval = 30
)

// ConnectionConfig describes how to reach the realtime gateway.
// KeepAliveInterval counts timer ticks, which fire once a second.
type ConnectionConfig struct {
	URL               string
	Path              string
	APIKey            models.Secret
	ReconnectInterval time.Duration
	VerifyTLS         bool
	CAMaterial        string
	CAPath            string
	KeepAlive         bool
	KeepAliveInterval int
}

// Clone returns a copy that does not share the API key bytes.
func (c ConnectionConfig) Clone() ConnectionConfig {
	c.APIKey = c.APIKey.Clone()
	return c
}

// Endpoint joins URL and Path into the websocket address. http and https
// schemes are mapped to ws and wss. An empty Path keeps the URL's own path.
func (c ConnectionConfig) Endpoint() (*url.URL, error) {
	u, err := parseGatewayURL(c.URL)
	if err != nil {
		return nil, err
	}
	if c.Path == "" {
		return u, nil
	}
	p, err := url.Parse(c.Path)
	if err != nil {
		return nil, utils.Wrap(utils.InvalidParam, "path", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + p.Path
	u.RawPath = ""
	u.RawQuery = p.RawQuery
	return u, nil
}

func parseGatewayURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, utils.New(utils.InvalidParam, "url is not set")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, utils.Wrap(utils.InvalidParam, "url", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "wss", "https":
		u.Scheme = "wss"
	case "ws", "http":
		u.Scheme = "ws"
	default:
		return nil, utils.New(utils.InvalidParam, "unsupported url scheme "+u.Scheme)
	}
	if u.Host == "" {
		return nil, utils.New(utils.InvalidParam, "url has no host")
	}
	return u, nil
}

func validatePath(p string) error {
	if !strings.HasPrefix(p, "/") {
		return utils.New(utils.InvalidParam, "path must start with /")
	}
	if _, err := url.Parse(p); err != nil {
		return utils.Wrap(utils.InvalidParam, "path", err)
	}
	return nil
}

// ConfigBuilder assembles a ConnectionConfig. The first invalid value is
// remembered and returned by Build.
type ConfigBuilder struct {
	cfg ConnectionConfig
	err error
}

func NewConfig() *ConfigBuilder {
	return &ConfigBuilder{cfg: ConnectionConfig{
		Path:              DefaultPath,
		ReconnectInterval: DefaultReconnectInterval,
		VerifyTLS:         true,
		KeepAliveInterval: DefaultKeepAliveInterval,
	}}
}

func (b *ConfigBuilder) setErr(err error) *ConfigBuilder {
	if b.err == nil {
		b.err = err
	}
	return b
}

func (b *ConfigBuilder) URL(u string) *ConfigBuilder {
	if _, err := parseGatewayURL(u); err != nil {
		return b.setErr(err)
	}
	b.cfg.URL = u
	return b
}

// Path sets the request path. An empty path means "use the URL's path".
func (b *ConfigBuilder) Path(p string) *ConfigBuilder {
	if p != "" {
		if err := validatePath(p); err != nil {
			return b.setErr(err)
		}
	}
	b.cfg.Path = p
	return b
}

func (b *ConfigBuilder) APIKey(key string) *ConfigBuilder {
	if key == "" {
		return b.setErr(utils.New(utils.InvalidParam, "empty api key"))
	}
	b.cfg.APIKey = models.NewSecret(key)
	return b
}

func (b *ConfigBuilder) ReconnectInterval(d time.Duration) *ConfigBuilder {
	if d <= 0 {
		return b.setErr(utils.New(utils.InvalidParam, "reconnect interval must be positive"))
	}
	b.cfg.ReconnectInterval = d
	return b
}

// VerifyTLS false disables certificate, expiry and hostname checks.
func (b *ConfigBuilder) VerifyTLS(v bool) *ConfigBuilder {
	b.cfg.VerifyTLS = v
	return b
}

// CAMaterial accepts PEM text or base64-encoded PEM.
func (b *ConfigBuilder) CAMaterial(pem string) *ConfigBuilder {
	b.cfg.CAMaterial = pem
	return b
}

func (b *ConfigBuilder) CAPath(p string) *ConfigBuilder {
	b.cfg.CAPath = p
	return b
}

// KeepAlive enables a ping every intervalSeconds while connected.
func (b *ConfigBuilder) KeepAlive(enabled bool, intervalSeconds int) *ConfigBuilder {
	if enabled && intervalSeconds <= 0 {
		return b.setErr(utils.New(utils.InvalidParam, "keep-alive interval must be positive"))
	}
	b.cfg.KeepAlive = enabled
	if intervalSeconds > 0 {
		b.cfg.KeepAliveInterval = intervalSeconds
	}
	return b
}

func (b *ConfigBuilder) Build() (ConnectionConfig, error) {
	if b.err != nil {
		return ConnectionConfig{}, b.err
	}
	return b.cfg.Clone(), nil
}

// ConfigFromGateway prepares a builder from a resolved gateway config and the
// identity's TLS policy. The API key is copied; gw can be destroyed afterwards.
func ConfigFromGateway(gw *auth.GatewayConfig, id *models.DeviceIdentity) *ConfigBuilder {
	b := NewConfig()
	if gw == nil {
		return b.setErr(errors.New("nil gateway config"))
	}
	b.URL(gw.URL)
	if gw.APIKey.Present() {
		b.cfg.APIKey = gw.APIKey.Clone()
	} else {
		b.setErr(utils.New(utils.InvalidParam, "gateway config has no api key"))
	}
	if id != nil {
		b.VerifyTLS(id.TLS.Verify).CAMaterial(id.TLS.CACert).CAPath(id.TLS.CAPath)
	}
	return b
}
