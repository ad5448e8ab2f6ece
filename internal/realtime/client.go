package realtime

import (
	"crypto/tls"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/harrylevesque/rtdevice/internal/auth"
	"github.com/harrylevesque/rtdevice/internal/certs"
	"github.com/harrylevesque/rtdevice/internal/models"
	"github.com/harrylevesque/rtdevice/internal/utils"
)

const (
	// MaxReconnectAttempts bounds consecutive retries after connection errors.
	MaxReconnectAttempts = 3

	timerPeriod = time.Second
	closeReason = "seeya"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

// Client owns one logical session with the realtime gateway. A single
// goroutine drives it through RunEventLoop; SendRequest and the protocol
// builders may be called from any goroutine.
type Client struct {
	cfg       ConnectionConfig
	tlsConfig *tls.Config
	identity  *models.DeviceIdentity
	transport Transport
	logger    *utils.Logger

	// HardwareID, Now and Nonce feed the signed handshake headers.
	HardwareID func() string
	Now        auth.Clock
	Nonce      auth.NonceSource

	mu    sync.Mutex
	queue *ring

	connected         atomic.Bool
	shouldRetry       atomic.Bool
	state             atomic.Int32
	reconnectAttempts atomic.Int32
	closed            atomic.Bool
	pingCount         int

	onMessage func([]byte)
	onFailure func(error)
}

// New creates a client for cfg. A nil transport selects the websocket
// transport. cfg may be partial; URL is only required by Connect.
func New(cfg ConnectionConfig, transport Transport, logger *utils.Logger) (*Client, error) {
	cfg = cfg.Clone()
	if cfg.KeepAlive && cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = DefaultKeepAliveInterval
	}
	tlsCfg, err := certs.TLSConfig(cfg.VerifyTLS, cfg.CAMaterial, cfg.CAPath)
	if err != nil {
		cfg.APIKey.Wipe()
		return nil, utils.Wrap(utils.InvalidParam, "tls options", err)
	}
	logger = logger.With("realtime")
	if transport == nil {
		transport = NewWSTransport(logger)
	}
	return &Client{
		cfg:        cfg,
		tlsConfig:  tlsCfg,
		transport:  transport,
		logger:     logger,
		HardwareID: utils.HardwareID,
		queue:      newRing(DefaultQueueCapacity),
	}, nil
}

// OnMessage registers the callback for inbound frames. It runs on the event
// loop goroutine.
func (c *Client) OnMessage(fn func([]byte)) { c.onMessage = fn }

// OnFailure registers the callback for failures the client cannot recover
// from by itself: exhausted reconnect attempts and failed writes.
func (c *Client) OnFailure(fn func(error)) { c.onFailure = fn }

func (c *Client) State() State    { return State(c.state.Load()) }
func (c *Client) Connected() bool { return c.connected.Load() }
func (c *Client) Config() ConnectionConfig {
	cfg := c.cfg.Clone()
	cfg.APIKey = nil
	return cfg
}

// Pending returns the number of queued outbound messages.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queue == nil {
		return 0
	}
	return c.queue.Len()
}

func (c *Client) fail(err error) {
	c.logger.Errorf("%v", err)
	if c.onFailure != nil {
		c.onFailure(err)
	}
}

// Connect starts a connection attempt and returns without waiting for it.
// It is a no-op while a connection exists or is being set up. Each call
// from the caller grants a fresh budget of reconnect attempts.
func (c *Client) Connect() error {
	if c.closed.Load() {
		return utils.New(utils.InvalidContext, "client is closed")
	}
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return nil
	}
	c.reconnectAttempts.Store(0)
	return c.dial()
}

func (c *Client) dial() error {
	endpoint, err := c.cfg.Endpoint()
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return err
	}
	hs, err := c.snapshotHandshake()
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return err
	}
	attempt := uuid.NewString()
	c.logger.Infof("connecting to %s (attempt %s)", endpoint.Redacted(), attempt)
	err = c.transport.Connect(DialRequest{
		URL:    endpoint,
		TLS:    c.tlsConfig,
		Header: hs.headers,
	})
	if err != nil {
		hs.wipe()
		c.state.Store(int32(StateDisconnected))
		return utils.Wrap(utils.ConnectFailed, "attempt "+attempt, err)
	}
	return nil
}

// handshake is a private copy of what one connection attempt signs with.
// The transport may build headers on its own goroutine, after the client
// has been closed, so it never reads the client's fields.
type handshake struct {
	mu         sync.Mutex
	identity   *models.DeviceIdentity
	apiKey     models.Secret
	hardwareID func() string
	now        auth.Clock
	nonce      auth.NonceSource
	used       bool
}

func (c *Client) snapshotHandshake() (*handshake, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return nil, utils.New(utils.InvalidContext, "client is closed")
	}
	return &handshake{
		identity:   c.identity.Clone(),
		apiKey:     c.cfg.APIKey.Clone(),
		hardwareID: c.HardwareID,
		now:        c.Now,
		nonce:      c.Nonce,
	}, nil
}

// headers carries the bearer key plus a signature computed for this attempt
// only. It works once; the copied secrets are wiped on return.
func (h *handshake) headers() (http.Header, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.used {
		return nil, utils.New(utils.InvalidContext, "handshake headers already built")
	}
	h.used = true
	defer h.wipeLocked()

	hdr := http.Header{}
	if h.identity != nil {
		params, err := auth.NewSignParams(h.identity, h.now, h.nonce)
		if err != nil {
			return nil, err
		}
		hwid := ""
		if h.hardwareID != nil {
			hwid = h.hardwareID()
		}
		signed, err := auth.AuthHeaders(params, h.identity.DeviceSecret, hwid)
		if err != nil {
			return nil, err
		}
		hdr = signed
	}
	if h.apiKey.Present() {
		hdr.Set("Authorization", "Bearer "+h.apiKey.Value())
	}
	return hdr, nil
}

func (h *handshake) wipe() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.used = true
	h.wipeLocked()
}

func (h *handshake) wipeLocked() {
	h.identity.Wipe()
	h.identity = nil
	h.apiKey.Wipe()
	h.apiKey = nil
}

// Disconnect closes the connection gracefully. The Closed event completes
// it. A disconnected session is not re-opened by SendRequest.
func (c *Client) Disconnect() error {
	if !c.connected.Load() {
		return nil
	}
	c.shouldRetry.Store(false)
	c.state.Store(int32(StateClosing))
	if err := c.transport.Close(websocket.CloseGoingAway, closeReason); err != nil {
		return utils.Wrap(utils.NetworkFail, "close", err)
	}
	return nil
}

// Close releases the transport, drops queued messages and wipes the API key
// and bound identity. Calling it again does nothing.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.connected.Store(false)
	c.shouldRetry.Store(false)
	c.state.Store(int32(StateDisconnected))
	if c.transport != nil {
		c.transport.Destroy()
	}
	c.mu.Lock()
	if c.queue != nil {
		c.queue.clear()
	}
	c.cfg.APIKey.Wipe()
	c.cfg.APIKey = nil
	c.identity.Wipe()
	c.identity = nil
	c.mu.Unlock()
}

// RunEventLoop services the transport once, waiting up to timeout, and
// handles every event it returns. Callers loop on it from one goroutine.
func (c *Client) RunEventLoop(timeout time.Duration) error {
	if c.closed.Load() || c.transport == nil {
		return utils.New(utils.InvalidContext, "client is closed")
	}
	events, err := c.transport.Service(timeout)
	for _, ev := range events {
		c.handle(ev)
	}
	return err
}

func (c *Client) handle(ev Event) {
	switch ev.Kind {
	case EventEstablished:
		c.onEstablished()
	case EventConnectionError:
		c.onConnectionError(ev.Err)
	case EventClosed, EventClientClosed:
		c.connected.Store(false)
		c.state.Store(int32(StateDisconnected))
		c.transport.SetTimer(0)
		c.logger.Infof("connection %s: %v", ev.Kind, ev.Err)
	case EventReceive:
		if c.onMessage != nil {
			c.onMessage(ev.Data)
		} else {
			c.logger.Debugf("received %d bytes", len(ev.Data))
		}
	case EventWritable:
		if err := c.writeOne(); err != nil {
			c.fail(err)
		}
	case EventTimer:
		c.onTimer()
	}
}

func (c *Client) onEstablished() {
	c.connected.Store(true)
	c.shouldRetry.Store(true)
	c.state.Store(int32(StateConnected))
	c.pingCount = 0
	c.reconnectAttempts.Store(0)
	c.logger.Info("connection established")
	c.transport.SetTimer(timerPeriod)
	c.transport.RequestWritable()
}

func (c *Client) onConnectionError(cause error) {
	if c.State() != StateConnecting {
		c.logger.Debugf("ignoring connection error while %s: %v", c.State(), cause)
		return
	}
	c.connected.Store(false)
	if n := c.reconnectAttempts.Load(); n < MaxReconnectAttempts {
		c.reconnectAttempts.Add(1)
		c.logger.Warnf("connection error: %v; reconnecting (%d/%d)", cause, n+1, MaxReconnectAttempts)
		if err := c.dial(); err != nil {
			c.fail(err)
		}
		return
	}
	c.state.Store(int32(StateDisconnected))
	c.shouldRetry.Store(false)
	c.fail(utils.Wrap(utils.ConnectFailed, "giving up after reconnect attempts", cause))
}

func (c *Client) onTimer() {
	if !c.connected.Load() {
		return
	}
	if c.cfg.KeepAlive {
		c.pingCount++
		if c.pingCount >= c.cfg.KeepAliveInterval {
			c.pingCount = 0
			if _, err := c.transport.Write([]byte("ping"), FramePing); err != nil {
				c.logger.Warnf("ping failed: %v", err)
			}
		}
	}
	c.transport.SetTimer(timerPeriod)
	if c.Pending() > 0 {
		c.transport.RequestWritable()
	}
}

// SendRequest queues text for delivery. It never blocks on the network: if
// the session dropped it starts a reconnect and the message waits in the
// queue until the connection is back. A full queue drops the message and
// returns an error matching utils.ErrQueueFull.
func (c *Client) SendRequest(text string) error {
	if c.closed.Load() {
		return utils.New(utils.InvalidContext, "client is closed")
	}
	if text == "" {
		return utils.New(utils.InvalidParam, "empty message")
	}
	if !c.connected.Load() && c.shouldRetry.Load() {
		if err := c.Connect(); err != nil {
			c.logger.Warnf("reconnect on send: %v", err)
		}
		c.shouldRetry.Store(false)
	}

	msg := outbound{payload: []byte(text)}
	c.mu.Lock()
	ok := c.queue.push(msg)
	c.mu.Unlock()
	if !ok {
		return utils.New(utils.QueueFull, "dropped message")
	}
	if c.connected.Load() {
		c.transport.RequestWritable()
	}
	return nil
}

// writeOne sends the oldest queued message. A failed or short write keeps
// the message queued and is reported as a network failure.
func (c *Client) writeOne() error {
	if !c.connected.Load() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, ok := c.queue.peek()
	if !ok {
		return nil
	}
	n, err := c.transport.Write(msg.payload, FrameText)
	if err != nil {
		return utils.Wrap(utils.NetworkFail, "write", err)
	}
	if n < len(msg.payload) {
		return utils.New(utils.NetworkFail, "short write")
	}
	c.queue.pop()
	if c.queue.Len() > 0 {
		c.transport.RequestWritable()
	}
	return nil
}

func (c *Client) checkIdle() error {
	if c.closed.Load() {
		return utils.New(utils.InvalidContext, "client is closed")
	}
	if c.State() != StateDisconnected {
		return utils.New(utils.InvalidContext, "option cannot change while "+c.State().String())
	}
	return nil
}

func (c *Client) SetURL(u string) error {
	if err := c.checkIdle(); err != nil {
		return err
	}
	if _, err := parseGatewayURL(u); err != nil {
		return err
	}
	c.cfg.URL = u
	return nil
}

func (c *Client) SetPath(p string) error {
	if err := c.checkIdle(); err != nil {
		return err
	}
	if err := validatePath(p); err != nil {
		return err
	}
	c.cfg.Path = p
	return nil
}

// SetAPIKey replaces the bearer key, wiping the old one.
func (c *Client) SetAPIKey(key string) error {
	if err := c.checkIdle(); err != nil {
		return err
	}
	if key == "" {
		return utils.New(utils.InvalidParam, "empty api key")
	}
	c.cfg.APIKey.Wipe()
	c.cfg.APIKey = models.NewSecret(key)
	return nil
}

func (c *Client) SetReconnectInterval(d time.Duration) error {
	if err := c.checkIdle(); err != nil {
		return err
	}
	if d <= 0 {
		return utils.New(utils.InvalidParam, "reconnect interval must be positive")
	}
	c.cfg.ReconnectInterval = d
	return nil
}

func (c *Client) SetVerifyTLS(verify bool) error {
	return c.setTLS(verify, c.cfg.CAPath)
}

func (c *Client) SetCAPath(path string) error {
	return c.setTLS(c.cfg.VerifyTLS, path)
}

func (c *Client) setTLS(verify bool, caPath string) error {
	if err := c.checkIdle(); err != nil {
		return err
	}
	tlsCfg, err := certs.TLSConfig(verify, c.cfg.CAMaterial, caPath)
	if err != nil {
		return utils.Wrap(utils.InvalidParam, "tls options", err)
	}
	c.cfg.VerifyTLS = verify
	c.cfg.CAPath = caPath
	c.tlsConfig = tlsCfg
	return nil
}

// BindIdentity installs a copy of id for signing handshakes. The previous
// identity is wiped.
func (c *Client) BindIdentity(id *models.DeviceIdentity) error {
	if err := c.checkIdle(); err != nil {
		return err
	}
	if id == nil {
		return utils.New(utils.InvalidParam, "nil identity")
	}
	if !id.DeviceSecret.Present() {
		return utils.New(utils.InvalidParam, "identity has no device secret")
	}
	c.identity.Wipe()
	c.identity = id.Clone()
	return nil
}
