package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harrylevesque/rtdevice/internal/certs"
	"github.com/harrylevesque/rtdevice/internal/models"
	"github.com/harrylevesque/rtdevice/internal/utils"
)

const (
	apiVersion      = "2021-12-14"
	actionRegister  = "DynamicRegister"
	actionLLMConfig = "GetLLMConfig"

	maxResponseBody = 1 << 20
	requestTimeout  = 10 * time.Second
)

// Doer is the HTTP primitive used for registration and config retrieval.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client talks to the device platform's HTTP API.
type Client struct {
	HTTP   Doer
	Logger *utils.Logger
	Now    Clock
	Nonce  NonceSource
}

// NewClient returns a Client whose HTTP transport follows the identity's TLS policy.
func NewClient(tlsPolicy models.TLSPolicy, logger *utils.Logger) (*Client, error) {
	tlsCfg, err := certs.TLSConfig(tlsPolicy.Verify, tlsPolicy.CACert, tlsPolicy.CAPath)
	if err != nil {
		return nil, utils.Wrap(utils.InvalidParam, "tls policy", err)
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = tlsCfg
	return &Client{
		HTTP:   &http.Client{Transport: tr, Timeout: requestTimeout},
		Logger: logger.With("platform"),
	}, nil
}

// ActionURL builds {host}/{version}/{action}?Action={action}&Version={version}.
// Hosts without a scheme are reached over https.
func ActionURL(host, action string) string {
	host = strings.TrimRight(host, "/")
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return fmt.Sprintf("%s/%s/%s?Action=%s&Version=%s", host, apiVersion, action, action, apiVersion)
}

// signedBody is the JSON body shared by both platform actions.
type signedBody struct {
	InstanceID string `json:"InstanceID"`
	ProductKey string `json:"product_key"`
	DeviceName string `json:"device_name"`
	RandomNum  int32  `json:"random_num"`
	Timestamp  uint64 `json:"timestamp"`
	AuthType   *int   `json:"auth_type,omitempty"`
	Signature  string `json:"signature"`
}

type responseMetadata struct {
	Action  string `json:"Action"`
	Version string `json:"Version"`
	Error   *struct {
		Code    string `json:"Code"`
		CodeN   int32  `json:"CodeN"`
		Message string `json:"Message"`
	} `json:"Error,omitempty"`
}

func (m responseMetadata) err() error {
	if m.Error == nil {
		return nil
	}
	return fmt.Errorf("platform error %s (%d): %s", m.Error.Code, m.Error.CodeN, m.Error.Message)
}

// post sends body to the action endpoint and returns the raw response body.
// Transport failures and non-2xx statuses are NetworkFail.
func (c *Client) post(ctx context.Context, host, action string, body signedBody) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, utils.Wrap(utils.AllocFailed, "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ActionURL(host, action), bytes.NewReader(payload))
	if err != nil {
		return nil, utils.Wrap(utils.InvalidParam, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	doer := c.HTTP
	if doer == nil {
		doer = http.DefaultClient
	}
	resp, err := doer.Do(req)
	if err != nil {
		return nil, utils.Wrap(utils.NetworkFail, action, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, utils.Wrap(utils.NetworkFail, action+": read body", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, utils.New(utils.NetworkFail, fmt.Sprintf("%s: status %d: %s", action, resp.StatusCode, truncate(data, 256)))
	}
	c.Logger.Debugf("%s response: %d bytes", action, len(data))
	return data, nil
}

func (c *Client) signParams(id *models.DeviceIdentity) (SignParams, error) {
	return NewSignParams(id, c.Now, c.Nonce)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
