package models

import (
	"fmt"
	"strconv"
)

// AuthMode selects how a device proves its identity to the platform.
type AuthMode int

const (
	// AuthDeviceSecret: one secret per device, provisioned ahead of time.
	AuthDeviceSecret AuthMode = -1
	// AuthDynamicPreRegistered: product secret, device name registered in advance.
	AuthDynamicPreRegistered AuthMode = 0
	// AuthDynamicNoPreRegistered: product secret, device created on first registration.
	AuthDynamicNoPreRegistered AuthMode = 1
	AuthUnknown                AuthMode = 100
)

// HeaderValue is the form used in the X-Auth-Type header.
func (m AuthMode) HeaderValue() string {
	switch m {
	case AuthDeviceSecret, AuthDynamicPreRegistered, AuthDynamicNoPreRegistered:
		return strconv.Itoa(int(m))
	default:
		return "UNKNOWN"
	}
}

func (m AuthMode) String() string {
	switch m {
	case AuthDeviceSecret:
		return "device_secret"
	case AuthDynamicPreRegistered:
		return "dynamic_pre_registered"
	case AuthDynamicNoPreRegistered:
		return "dynamic_no_pre_registered"
	default:
		return "unknown"
	}
}

// Secret is sensitive key material. It prints as *** and can be wiped.
type Secret []byte

func NewSecret(s string) Secret {
	if s == "" {
		return nil
	}
	return Secret(s)
}

func (s Secret) Present() bool  { return len(s) > 0 }
func (s Secret) Value() string  { return string(s) }
func (s Secret) String() string { return "***" }

// GoString keeps %#v from leaking the value too.
func (s Secret) GoString() string { return "models.Secret(***)" }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s), nil }

func (s *Secret) UnmarshalText(b []byte) error {
	*s = append(Secret(nil), b...)
	return nil
}

func (s Secret) Clone() Secret {
	if s == nil {
		return nil
	}
	return append(Secret(nil), s...)
}

// Wipe zeroes the backing bytes.
func (s Secret) Wipe() {
	for i := range s {
		s[i] = 0
	}
}

// TLSPolicy controls certificate verification towards the platform and gateway.
type TLSPolicy struct {
	Verify bool   `json:"verify"`
	CACert string `json:"ca_cert,omitempty"` // PEM or base64 PEM
	CAPath string `json:"ca_path,omitempty"`
}

// DeviceIdentity holds device/product credentials and the platform endpoint.
type DeviceIdentity struct {
	HTTPHost      string    `json:"http_host"`
	InstanceID    string    `json:"instance_id"`
	AuthMode      AuthMode  `json:"auth_mode"`
	ProductKey    string    `json:"product_key"`
	ProductSecret Secret    `json:"product_secret,omitempty"`
	DeviceName    string    `json:"device_name"`
	DeviceSecret  Secret    `json:"device_secret,omitempty"`
	TLS           TLSPolicy `json:"tls"`
}

// Clone returns a deep copy; secrets do not share backing arrays.
func (d *DeviceIdentity) Clone() *DeviceIdentity {
	if d == nil {
		return nil
	}
	cp := *d
	cp.ProductSecret = d.ProductSecret.Clone()
	cp.DeviceSecret = d.DeviceSecret.Clone()
	return &cp
}

// Wipe zeroes and drops both secrets.
func (d *DeviceIdentity) Wipe() {
	if d == nil {
		return
	}
	d.ProductSecret.Wipe()
	d.DeviceSecret.Wipe()
	d.ProductSecret = nil
	d.DeviceSecret = nil
}

// SetDeviceSecret replaces the device secret, wiping the previous one.
func (d *DeviceIdentity) SetDeviceSecret(s Secret) {
	d.DeviceSecret.Wipe()
	d.DeviceSecret = s
}

// NeedsRegistration reports whether a device secret must still be obtained.
func (d *DeviceIdentity) NeedsRegistration() bool {
	return !d.DeviceSecret.Present()
}

// Validate checks the fields every signed request depends on.
func (d *DeviceIdentity) Validate() error {
	switch {
	case d == nil:
		return fmt.Errorf("identity is nil")
	case d.HTTPHost == "":
		return fmt.Errorf("http_host is required")
	case d.ProductKey == "":
		return fmt.Errorf("product_key is required")
	case d.DeviceName == "":
		return fmt.Errorf("device_name is required")
	}
	switch d.AuthMode {
	case AuthDeviceSecret:
		if !d.DeviceSecret.Present() {
			return fmt.Errorf("auth mode %s requires device_secret", d.AuthMode)
		}
	case AuthDynamicPreRegistered, AuthDynamicNoPreRegistered:
		if !d.DeviceSecret.Present() && !d.ProductSecret.Present() {
			return fmt.Errorf("auth mode %s requires product_secret", d.AuthMode)
		}
	default:
		return fmt.Errorf("unsupported auth mode %d", int(d.AuthMode))
	}
	return nil
}
