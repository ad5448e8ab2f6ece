package auth

import (
	"context"
	"encoding/json"

	"github.com/harrylevesque/rtdevice/internal/crypto"
	"github.com/harrylevesque/rtdevice/internal/models"
	"github.com/harrylevesque/rtdevice/internal/utils"
)

// The gateway only accepts config requests signed with auth_type 0, whatever
// mode the device registered with.
const llmConfigAuthMode = models.AuthDynamicPreRegistered

// GatewayConfig is the resolved realtime gateway endpoint and its API key.
type GatewayConfig struct {
	URL    string
	APIKey models.Secret
}

// Destroy zeroes the API key. Safe to call more than once.
func (g *GatewayConfig) Destroy() {
	if g == nil {
		return
	}
	g.APIKey.Wipe()
	g.APIKey = nil
	g.URL = ""
}

type llmConfigResponse struct {
	ResponseMetadata responseMetadata `json:"ResponseMetadata"`
	Result           *struct {
		URL    string `json:"URL"`
		APIKey string `json:"APIKey"`
	} `json:"Result"`
}

// GetLLMConfig fetches the gateway URL and API key, registering the device
// first when it has no device secret yet.
func (c *Client) GetLLMConfig(ctx context.Context, id *models.DeviceIdentity) (*GatewayConfig, error) {
	if id == nil {
		return nil, utils.New(utils.InvalidContext, "nil identity")
	}
	if id.NeedsRegistration() {
		if err := c.Register(ctx, id); err != nil {
			return nil, utils.Wrap(utils.DevRegFailed, "get llm config", err)
		}
	}
	params, err := c.signParams(id)
	if err != nil {
		return nil, err
	}
	params.AuthMode = llmConfigAuthMode
	sig, err := Sign(params, id.DeviceSecret)
	if err != nil {
		return nil, err
	}
	data, err := c.post(ctx, id.HTTPHost, actionLLMConfig, signedBody{
		InstanceID: params.InstanceID,
		ProductKey: params.ProductKey,
		DeviceName: params.DeviceName,
		RandomNum:  params.RandomNum,
		Timestamp:  params.Timestamp,
		Signature:  sig,
	})
	if err != nil {
		return nil, err
	}
	return parseLLMConfig(data, id.DeviceSecret)
}

func parseLLMConfig(data []byte, deviceSecret models.Secret) (*GatewayConfig, error) {
	var resp llmConfigResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, utils.Wrap(utils.ParseFailed, "llm config response", err)
	}
	if resp.Result == nil {
		return nil, utils.Wrap(utils.ParseFailed, "llm config response has no Result", resp.ResponseMetadata.err())
	}
	if resp.Result.APIKey == "" {
		return nil, utils.New(utils.ParseFailed, "llm config response has no APIKey")
	}
	key, err := crypto.DecodeCBC(deviceSecret, resp.Result.APIKey, false)
	if err != nil {
		return nil, utils.Wrap(utils.ParseFailed, "decrypt api key", err)
	}
	if resp.Result.URL == "" {
		crypto.Wipe(key)
		return nil, utils.New(utils.ParseFailed, "llm config response has no URL")
	}
	return &GatewayConfig{URL: resp.Result.URL, APIKey: models.Secret(key)}, nil
}
