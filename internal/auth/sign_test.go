package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/harrylevesque/rtdevice/internal/models"
	"github.com/harrylevesque/rtdevice/internal/utils"
)

const (
	testDeviceSecret = "98cb52e94e437ee407dbed37"
	testSignature    = "+b7H63esTMtLoTuoy0pJpdzYb1Emu4SvonnuBRZDqpk="
)

func testParams() SignParams {
	return SignParams{
		InstanceID: "inst-1",
		ProductKey: "pk-demo",
		DeviceName: "P1-9",
		Timestamp:  1700000000,
		RandomNum:  12345,
		AuthMode:   models.AuthDynamicPreRegistered,
	}
}

func TestCanonical(t *testing.T) {
	want := "auth_type=0&device_name=P1-9&random_num=12345&product_key=pk-demo&timestamp=1700000000"
	if got := testParams().Canonical(); got != want {
		t.Fatalf("Canonical() = %q, want %q", got, want)
	}
}

func TestSignKnownVector(t *testing.T) {
	sig, err := Sign(testParams(), []byte(testDeviceSecret))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if sig != testSignature {
		t.Fatalf("Sign() = %q, want %q", sig, testSignature)
	}
	again, _ := Sign(testParams(), []byte(testDeviceSecret))
	if again != sig {
		t.Fatalf("Sign is not deterministic")
	}
}

func TestSignChangesWithEveryField(t *testing.T) {
	base, _ := Sign(testParams(), []byte(testDeviceSecret))
	mutations := map[string]func(*SignParams){
		"device_name": func(p *SignParams) { p.DeviceName = "P1-10" },
		"product_key": func(p *SignParams) { p.ProductKey = "pk-other" },
		"timestamp":   func(p *SignParams) { p.Timestamp++ },
		"random_num":  func(p *SignParams) { p.RandomNum++ },
		"auth_type":   func(p *SignParams) { p.AuthMode = models.AuthDynamicNoPreRegistered },
	}
	for name, mutate := range mutations {
		p := testParams()
		mutate(&p)
		sig, err := Sign(p, []byte(testDeviceSecret))
		if err != nil {
			t.Fatalf("%s: Sign: %v", name, err)
		}
		if sig == base {
			t.Fatalf("%s: signature unchanged", name)
		}
	}
	other, _ := Sign(testParams(), []byte("another-secret"))
	if other == base {
		t.Fatalf("signature unchanged with a different secret")
	}
}

func TestSignEmptySecret(t *testing.T) {
	_, err := Sign(testParams(), nil)
	if !errors.Is(err, utils.ErrInvalidContext) {
		t.Fatalf("expected invalid context, got %v", err)
	}
}

func TestNewSignParams(t *testing.T) {
	id := &models.DeviceIdentity{InstanceID: "inst-1", ProductKey: "pk", DeviceName: "dev", AuthMode: models.AuthDeviceSecret}
	now := func() time.Time { return time.Unix(1700000000, 0) }
	nonce := func() (int32, error) { return 7, nil }
	p, err := NewSignParams(id, now, nonce)
	if err != nil {
		t.Fatalf("NewSignParams: %v", err)
	}
	if p.Timestamp != 1700000000 || p.RandomNum != 7 || p.AuthMode != models.AuthDeviceSecret || p.DeviceName != "dev" {
		t.Fatalf("unexpected params %+v", p)
	}

	_, err = NewSignParams(id, now, func() (int32, error) { return 0, errors.New("no entropy") })
	if !errors.Is(err, utils.ErrSignFailed) {
		t.Fatalf("expected sign failed, got %v", err)
	}
}

func TestRandomNonceNonNegative(t *testing.T) {
	for i := 0; i < 64; i++ {
		n, err := RandomNonce()
		if err != nil {
			t.Fatalf("RandomNonce: %v", err)
		}
		if n < 0 {
			t.Fatalf("negative nonce %d", n)
		}
	}
}

func TestAuthHeaders(t *testing.T) {
	h, err := AuthHeaders(testParams(), []byte(testDeviceSecret), "aa:bb:cc:dd:ee:ff")
	if err != nil {
		t.Fatalf("AuthHeaders: %v", err)
	}
	want := map[string]string{
		HeaderSignature:  testSignature,
		HeaderAuthType:   "0",
		HeaderDeviceName: "P1-9",
		HeaderProductKey: "pk-demo",
		HeaderRandomNum:  "12345",
		HeaderTimestamp:  "1700000000",
		HeaderHardwareID: "aa:bb:cc:dd:ee:ff",
	}
	for k, v := range want {
		if got := h.Get(k); got != v {
			t.Fatalf("%s = %q, want %q", k, got, v)
		}
	}

	h, _ = AuthHeaders(testParams(), []byte(testDeviceSecret), "")
	if _, ok := h[HeaderHardwareID]; ok {
		t.Fatalf("hardware id header set without a value")
	}
}
