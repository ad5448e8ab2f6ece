package crypto

import (
	"bytes"
	"testing"
)

// Fixtures produced with `openssl enc -aes-{128,192}-cbc` (PKCS#7 padding),
// key and IV taken from the secret as the platform does.
const (
	fixtureProductSecret = "prod-secret-0123456789ab"
	fixtureDeviceSecret  = "98cb52e94e437ee407dbed37"
	fixtureRegPayload    = "40QbRLd/jkTbQoRIRYNQ+qbukZRS5utVR3dPzsvNs6M="
	fixtureAPIKeyBlob    = "ZRmyNx29PZtXZnBCf5fhS9ZYW8DoCVWIPsQfju0Rt2s="
	fixtureAPIKey        = "ak-realtime-4f2c9e1d7b"
)

func TestDecodeCBCRegistrationPayload(t *testing.T) {
	got, err := DecodeCBC([]byte(fixtureProductSecret), fixtureRegPayload, true)
	if err != nil {
		t.Fatalf("DecodeCBC: %v", err)
	}
	if string(got) != fixtureDeviceSecret {
		t.Fatalf("got %q, want %q", got, fixtureDeviceSecret)
	}
}

func TestDecodeCBCAPIKey(t *testing.T) {
	got, err := DecodeCBC([]byte(fixtureDeviceSecret), fixtureAPIKeyBlob, false)
	if err != nil {
		t.Fatalf("DecodeCBC: %v", err)
	}
	if string(got) != fixtureAPIKey {
		t.Fatalf("got %q, want %q", got, fixtureAPIKey)
	}
}

func TestDecodeCBCRejectsBadInput(t *testing.T) {
	cases := map[string]struct {
		secret  string
		encoded string
	}{
		"empty secret":  {"", fixtureAPIKeyBlob},
		"not base64":    {fixtureDeviceSecret, "%%%"},
		"partial block": {fixtureDeviceSecret, "AAAA"},
		"empty payload": {fixtureDeviceSecret, ""},
	}
	for name, tc := range cases {
		if _, err := DecodeCBC([]byte(tc.secret), tc.encoded, false); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestEncryptCBCRoundTrip(t *testing.T) {
	for _, partial := range []bool{true, false} {
		enc, err := EncryptCBC([]byte(fixtureDeviceSecret), []byte("sixteen-byte-key"), partial)
		if err != nil {
			t.Fatalf("EncryptCBC: %v", err)
		}
		got, err := DecodeCBC([]byte(fixtureDeviceSecret), enc, partial)
		if err != nil {
			t.Fatalf("DecodeCBC: %v", err)
		}
		if string(got) != "sixteen-byte-key" {
			t.Fatalf("partial=%v: got %q", partial, got)
		}
	}
}

func TestAESGCM(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	blob, err := EncryptAESGCM(key, []byte("identity"))
	if err != nil {
		t.Fatalf("EncryptAESGCM: %v", err)
	}
	plain, err := DecryptAESGCM(key, blob)
	if err != nil {
		t.Fatalf("DecryptAESGCM: %v", err)
	}
	if string(plain) != "identity" {
		t.Fatalf("got %q", plain)
	}
	blob[len(blob)-1] ^= 1
	if _, err := DecryptAESGCM(key, blob); err == nil {
		t.Fatalf("expected tamper detection")
	}
	if _, err := EncryptAESGCM(key[:16], nil); err != ErrInvalidKeyLength {
		t.Fatalf("expected ErrInvalidKeyLength, got %v", err)
	}
}

func TestDeriveStoreKey(t *testing.T) {
	a, _ := DeriveStoreKey([]byte("aa:bb:cc:dd:ee:ff"), []byte("salt"))
	b, _ := DeriveStoreKey([]byte("aa:bb:cc:dd:ee:ff"), []byte("salt"))
	c, _ := DeriveStoreKey([]byte("aa:bb:cc:dd:ee:00"), []byte("salt"))
	if len(a) != 32 || !bytes.Equal(a, b) {
		t.Fatalf("derivation not deterministic")
	}
	if bytes.Equal(a, c) {
		t.Fatalf("different input produced the same key")
	}
}

func TestWipe(t *testing.T) {
	b := []byte("secret")
	Wipe(b)
	if !bytes.Equal(b, make([]byte, 6)) {
		t.Fatalf("not wiped: %v", b)
	}
}
