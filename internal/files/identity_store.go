package files

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/harrylevesque/rtdevice/internal/crypto"
	"github.com/harrylevesque/rtdevice/internal/models"
)

const (
	identityFile  = "identity.json.enc"
	masterKeyFile = "master.key"
	storeKeySalt  = "rtdevice"
)

// ErrNoMasterKey is returned by ReadMasterKey when neither MASTER_KEY_HEX nor
// a master.key file is available.
var ErrNoMasterKey = errors.New("MASTER_KEY_HEX not set and master.key file not found")

// ReadMasterKey reads MASTER_KEY_HEX (hex, 64 chars -> 32 bytes), falling
// back to master.key in dir.
func ReadMasterKey(dir string) ([]byte, error) {
	h := os.Getenv("MASTER_KEY_HEX")
	if h == "" {
		data, err := os.ReadFile(filepath.Join(dir, masterKeyFile))
		if err != nil {
			return nil, ErrNoMasterKey
		}
		h = string(data)
	}
	b, err := hex.DecodeString(strings.TrimSpace(h))
	if err != nil {
		return nil, fmt.Errorf("master key hex decode error: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("master key length must be 32 bytes (hex 64 chars)")
	}
	return b, nil
}

// WriteMasterKey writes a fresh random master key to dir/master.key and
// returns its path. An existing key is never overwritten.
func WriteMasterKey(dir string) (string, error) {
	key, err := crypto.RandomBytes(32)
	if err != nil {
		return "", err
	}
	defer crypto.Wipe(key)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	path := filepath.Join(dir, masterKeyFile)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(hex.EncodeToString(key) + "\n"); err != nil {
		return "", err
	}
	return path, nil
}

// StoreKey returns the key protecting the identity file, derived from the
// master key. When no master key exists one is written to dir first, so the
// key survives restarts and network changes.
func StoreKey(dir string) ([]byte, error) {
	master, err := ReadMasterKey(dir)
	if errors.Is(err, ErrNoMasterKey) {
		if _, werr := WriteMasterKey(dir); werr != nil && !errors.Is(werr, os.ErrExist) {
			return nil, fmt.Errorf("create master key: %w", werr)
		}
		master, err = ReadMasterKey(dir)
	}
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(master)
	return crypto.DeriveStoreKey(master, []byte(storeKeySalt))
}

// IdentityStore persists one device identity, encrypted with AES-GCM.
type IdentityStore struct {
	path string
	key  []byte
	mu   sync.Mutex
}

func NewIdentityStore(dir string, key []byte) (*IdentityStore, error) {
	if len(key) != 32 {
		return nil, crypto.ErrInvalidKeyLength
	}
	return &IdentityStore{
		path: filepath.Join(dir, identityFile),
		key:  append([]byte(nil), key...),
	}, nil
}

func (s *IdentityStore) Path() string { return s.path }

// Save encrypts and writes id, replacing any previous file atomically.
func (s *IdentityStore) Save(id *models.DeviceIdentity) error {
	if id == nil {
		return errors.New("nil identity")
	}
	plain, err := json.Marshal(id)
	if err != nil {
		return err
	}
	defer crypto.Wipe(plain)
	enc, err := crypto.EncryptAESGCM(s.key, plain)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, enc, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load reads the stored identity. It returns an error satisfying
// errors.Is(err, os.ErrNotExist) when nothing has been saved yet.
func (s *IdentityStore) Load() (*models.DeviceIdentity, error) {
	s.mu.Lock()
	blob, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	plain, err := crypto.DecryptAESGCM(s.key, blob)
	if err != nil {
		return nil, fmt.Errorf("decrypt identity: %w", err)
	}
	defer crypto.Wipe(plain)
	var id models.DeviceIdentity
	if err := json.Unmarshal(plain, &id); err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	return &id, nil
}

// Remove deletes the stored identity. Removing a missing file is not an error.
func (s *IdentityStore) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ReadIdentityFile reads a plaintext provisioning file.
func ReadIdentityFile(path string) (*models.DeviceIdentity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var id models.DeviceIdentity
	if err := json.NewDecoder(f).Decode(&id); err != nil {
		return nil, err
	}
	return &id, nil
}
