package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

const storeKeyInfo = "rtdevice-identity-store-v1"

// DeriveStoreKey derives the 32-byte identity-store key from the master key,
// so the master key itself never encrypts anything directly.
func DeriveStoreKey(ikm, salt []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, ikm, salt, []byte(storeKeyInfo))
	out := make([]byte, 32)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, err
	}
	return out, nil
}
