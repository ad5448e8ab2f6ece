package auth

import (
	"context"
	"encoding/json"

	"github.com/harrylevesque/rtdevice/internal/crypto"
	"github.com/harrylevesque/rtdevice/internal/models"
	"github.com/harrylevesque/rtdevice/internal/utils"
)

type registerResponse struct {
	ResponseMetadata responseMetadata `json:"ResponseMetadata"`
	Result           *struct {
		Len     int32  `json:"len"`
		Payload string `json:"payload"`
	} `json:"Result"`
}

// Register performs dynamic registration and stores the issued device
// secret in id. It is a no-op when id already holds a device secret; the
// platform does not make registration idempotent, so callers must not
// retry blindly on failure.
func (c *Client) Register(ctx context.Context, id *models.DeviceIdentity) error {
	if id == nil {
		return utils.New(utils.InvalidContext, "nil identity")
	}
	if !id.NeedsRegistration() {
		return nil
	}
	params, err := c.signParams(id)
	if err != nil {
		return err
	}
	sig, err := Sign(params, id.ProductSecret)
	if err != nil {
		return err
	}
	authType := int(params.AuthMode)
	body := signedBody{
		InstanceID: params.InstanceID,
		ProductKey: params.ProductKey,
		DeviceName: params.DeviceName,
		RandomNum:  params.RandomNum,
		Timestamp:  params.Timestamp,
		AuthType:   &authType,
		Signature:  sig,
	}

	c.Logger.Infof("registering device %s/%s", id.ProductKey, id.DeviceName)
	data, err := c.post(ctx, id.HTTPHost, actionRegister, body)
	if err != nil {
		return err
	}

	var resp registerResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return utils.Wrap(utils.ParseFailed, "register response", err)
	}
	if resp.Result == nil || resp.Result.Len <= 0 || resp.Result.Payload == "" {
		return utils.Wrap(utils.ParseFailed, "register response has no payload", resp.ResponseMetadata.err())
	}
	secret, err := crypto.DecodeCBC(id.ProductSecret, resp.Result.Payload, true)
	if err != nil {
		return utils.Wrap(utils.ParseFailed, "decrypt device secret", err)
	}
	if len(secret) == 0 {
		return utils.New(utils.ParseFailed, "decrypted device secret is empty")
	}
	id.SetDeviceSecret(models.Secret(secret))
	c.Logger.Infof("device %s registered", id.DeviceName)
	return nil
}
