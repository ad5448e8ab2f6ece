package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/harrylevesque/rtdevice/internal/models"
	"github.com/harrylevesque/rtdevice/internal/utils"
)

// CanonicalFormat is the message the platform recomputes to verify a
// signature. Field order is fixed by the server.
const CanonicalFormat = "auth_type=%d&device_name=%s&random_num=%d&product_key=%s&timestamp=%d"

// Handshake and request header names.
const (
	HeaderSignature  = "X-Signature"
	HeaderAuthType   = "X-Auth-Type"
	HeaderDeviceName = "X-Device-Name"
	HeaderProductKey = "X-Product-Key"
	HeaderRandomNum  = "X-Random-Num"
	HeaderTimestamp  = "X-Timestamp"
	HeaderHardwareID = "X-Hardware-Id"
)

// SignParams is the per-request input to Sign. Build a fresh one for every
// request; nonce and timestamp must not be reused.
type SignParams struct {
	InstanceID string
	ProductKey string
	DeviceName string
	Timestamp  uint64
	RandomNum  int32
	AuthMode   models.AuthMode
}

// Canonical renders the string that gets signed.
func (p SignParams) Canonical() string {
	return fmt.Sprintf(CanonicalFormat, int32(p.AuthMode), p.DeviceName, p.RandomNum, p.ProductKey, p.Timestamp)
}

// Sign returns base64(HMAC-SHA256(secret, canonical)).
func Sign(p SignParams, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", utils.New(utils.InvalidContext, "no secret to sign with")
	}
	mac := hmac.New(sha256.New, secret)
	if _, err := mac.Write([]byte(p.Canonical())); err != nil {
		return "", utils.Wrap(utils.SignFailed, "hmac", err)
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Clock and nonce sources, replaceable in tests.
type Clock func() time.Time
type NonceSource func() (int32, error)

// RandomNonce returns a non-negative random int32 from crypto/rand.
func RandomNonce() (int32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b[:]) & 0x7fffffff), nil
}

// NewSignParams fills params from the identity with a fresh nonce/timestamp.
func NewSignParams(id *models.DeviceIdentity, now Clock, nonce NonceSource) (SignParams, error) {
	if now == nil {
		now = time.Now
	}
	if nonce == nil {
		nonce = RandomNonce
	}
	rnd, err := nonce()
	if err != nil {
		return SignParams{}, utils.Wrap(utils.SignFailed, "nonce", err)
	}
	return SignParams{
		InstanceID: id.InstanceID,
		ProductKey: id.ProductKey,
		DeviceName: id.DeviceName,
		Timestamp:  uint64(now().Unix()),
		RandomNum:  rnd,
		AuthMode:   id.AuthMode,
	}, nil
}

// AuthHeaders builds the signed header set carried by gateway requests and
// the realtime handshake. The hardware id header is added when non-empty.
func AuthHeaders(p SignParams, secret []byte, hardwareID string) (http.Header, error) {
	sig, err := Sign(p, secret)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set(HeaderSignature, sig)
	h.Set(HeaderAuthType, p.AuthMode.HeaderValue())
	h.Set(HeaderDeviceName, p.DeviceName)
	h.Set(HeaderProductKey, p.ProductKey)
	h.Set(HeaderRandomNum, strconv.FormatInt(int64(p.RandomNum), 10))
	h.Set(HeaderTimestamp, strconv.FormatUint(p.Timestamp, 10))
	if hardwareID != "" {
		h.Set(HeaderHardwareID, hardwareID)
	}
	return h, nil
}
