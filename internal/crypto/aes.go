package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	ivLen         = aes.BlockSize
	partialKeyLen = 16 // AES-128, registration payloads
	fullKeyLen    = 24 // AES-192, gateway API keys
)

var (
	ErrInvalidKeyLength = errors.New("invalid key length")
	ErrCiphertextLength = errors.New("ciphertext is not a whole number of blocks")
)

// DecodeCBC decrypts a base64 AES-CBC blob issued by the platform. The key
// is the leading bytes of secret (16 when partial, 24 otherwise) and the IV
// is its first 16 bytes; short secrets are zero padded. The plaintext ends
// at the first NUL and trailing control or space bytes are trimmed, which
// strips any padding.
func DecodeCBC(secret []byte, encoded string, partial bool) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrInvalidKeyLength
	}
	ct, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, ErrCiphertextLength
	}
	keyLen := fullKeyLen
	if partial {
		keyLen = partialKeyLen
	}
	key := padded(secret, keyLen)
	iv := padded(secret, ivLen)
	defer Wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)

	plain := out
	if i := bytes.IndexByte(plain, 0); i >= 0 {
		plain = plain[:i]
	}
	plain = bytes.TrimRightFunc(plain, func(r rune) bool { return r < 0x20 || r == ' ' })
	res := append([]byte(nil), plain...)
	Wipe(out)
	return res, nil
}

// EncryptCBC is the inverse of DecodeCBC using zero padding. The platform
// side uses it; on device it is only useful for fixtures.
func EncryptCBC(secret, plaintext []byte, partial bool) (string, error) {
	if len(secret) == 0 {
		return "", ErrInvalidKeyLength
	}
	keyLen := fullKeyLen
	if partial {
		keyLen = partialKeyLen
	}
	key := padded(secret, keyLen)
	defer Wipe(key)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	n := (len(plaintext)/aes.BlockSize + 1) * aes.BlockSize
	buf := make([]byte, n)
	copy(buf, plaintext)
	cipher.NewCBCEncrypter(block, padded(secret, ivLen)).CryptBlocks(buf, buf)
	return base64.StdEncoding.EncodeToString(buf), nil
}

func padded(secret []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, secret)
	return out
}

// EncryptAESGCM seals plaintext under a 32-byte key; the nonce is prepended.
func EncryptAESGCM(masterKey, plaintext []byte) ([]byte, error) {
	if len(masterKey) != 32 {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce, err := RandomBytes(gcm.NonceSize())
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func DecryptAESGCM(masterKey, blob []byte) ([]byte, error) {
	if len(masterKey) != 32 {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	ns := gcm.NonceSize()
	if len(blob) < ns {
		return nil, errors.New("ciphertext too short")
	}
	return gcm.Open(nil, blob[:ns], blob[ns:], nil)
}

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Wipe zeroes b in place.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
