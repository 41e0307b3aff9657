// Package keyring provides secure secret storage.
// It uses the system keyring when available, falling back to
// encrypted local file storage when not.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/hkdf"

	"github.com/yllada/vpn-client/common"
)

const (
	// DefaultService is the identifier used in the system keyring.
	DefaultService = common.ConfigDirName

	localStoreName = ".credentials"
	probeKey       = "vpn-client-test-init"
	hkdfInfo       = "vpn-client local credential store"
)

// Common errors returned by keyring operations.
var (
	ErrNotFound = common.ErrCredentialsNotFound
	ErrEmptyKey = errors.New("key cannot be empty")
)

// Backend is a system secret service.
type Backend interface {
	Set(service, user, secret string) error
	Get(service, user string) (string, error)
	Delete(service, user string) error
}

type systemBackend struct{}

func (systemBackend) Set(service, user, secret string) error { return keyring.Set(service, user, secret) }
func (systemBackend) Get(service, user string) (string, error) {
	return keyring.Get(service, user)
}
func (systemBackend) Delete(service, user string) error { return keyring.Delete(service, user) }

// Config configures a Store.
type Config struct {
	// Service names the keyring entries. Defaults to DefaultService.
	Service string
	// Dir holds the encrypted fallback file. Defaults to the config dir.
	Dir string
	// Backend defaults to the system keyring.
	Backend Backend
	// ForceLocal skips the system keyring.
	ForceLocal bool
}

// Store keeps secrets in the system keyring or, when that is unavailable,
// in an AES-GCM encrypted file.
type Store struct {
	service string
	backend Backend

	mu        sync.RWMutex
	useLocal  bool
	local     map[string]string
	localFile string
	key       []byte
}

// New opens a store, probing the system keyring once.
func New(cfg Config) (*Store, error) {
	if cfg.Service == "" {
		cfg.Service = DefaultService
	}
	if cfg.Dir == "" {
		dir, err := common.GetConfigDir()
		if err != nil {
			return nil, err
		}
		cfg.Dir = dir
	}
	if cfg.Backend == nil {
		cfg.Backend = systemBackend{}
	}

	s := &Store{
		service:   cfg.Service,
		backend:   cfg.Backend,
		localFile: filepath.Join(cfg.Dir, localStoreName),
	}

	useLocal := cfg.ForceLocal
	if !useLocal {
		if err := s.backend.Set(s.service, probeKey, "test"); err != nil {
			common.LogWarn("System keyring unavailable, using encrypted file: %v", err)
			useLocal = true
		} else {
			_ = s.backend.Delete(s.service, probeKey)
		}
	}
	if useLocal {
		if err := s.initLocalStorage(cfg.Dir); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// UsingLocalStorage reports whether the encrypted file is in use.
func (s *Store) UsingLocalStorage() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.useLocal
}

// Set saves a secret.
func (s *Store) Set(key, secret string) error {
	if key == "" {
		return ErrEmptyKey
	}

	if !s.UsingLocalStorage() {
		err := s.backend.Set(s.service, key, secret)
		if err == nil {
			return nil
		}
		common.LogWarn("Keyring write failed, falling back to encrypted file: %v", err)
		if err := s.switchToLocal(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.local[key] = secret
	s.mu.Unlock()
	return s.saveLocalStore()
}

// Get retrieves a secret.
func (s *Store) Get(key string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}

	if !s.UsingLocalStorage() {
		secret, err := s.backend.Get(s.service, key)
		if err == nil {
			return secret, nil
		}
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		common.LogWarn("Keyring read failed: %v", err)
		return "", fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	secret, ok := s.local[key]
	if !ok {
		return "", ErrNotFound
	}
	return secret, nil
}

// Delete removes a secret. Deleting a missing secret is not an error.
func (s *Store) Delete(key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	if !s.UsingLocalStorage() {
		err := s.backend.Delete(s.service, key)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
		}
		return nil
	}

	s.mu.Lock()
	delete(s.local, key)
	s.mu.Unlock()
	return s.saveLocalStore()
}

// Exists checks if a secret is stored under key.
func (s *Store) Exists(key string) bool {
	_, err := s.Get(key)
	return err == nil
}

func (s *Store) switchToLocal() error {
	s.mu.Lock()
	already := s.useLocal
	s.mu.Unlock()
	if already {
		return nil
	}
	return s.initLocalStorage(filepath.Dir(s.localFile))
}

func (s *Store) initLocalStorage(dir string) error {
	if err := common.EnsureDir(dir); err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}

	key, err := deriveKey(s.service)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = key
	s.local = make(map[string]string)
	s.useLocal = true
	s.loadLocalStoreLocked()
	return nil
}

// deriveKey derives the file encryption key from machine-specific data.
func deriveKey(service string) ([]byte, error) {
	hostname, _ := os.Hostname()
	secret := fmt.Sprintf("%s-%s-%d", hostname, getMachineID(), os.Getuid())

	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), []byte(service), []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func getMachineID() string {
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		return strings.TrimSpace(string(data))
	}
	return "default-machine-id"
}

func (s *Store) loadLocalStoreLocked() {
	data, err := os.ReadFile(s.localFile)
	if err != nil {
		return
	}

	decrypted, err := decrypt(s.key, data)
	if err != nil {
		common.LogWarn("Ignoring unreadable credential file %s: %v", s.localFile, err)
		return
	}

	if err := json.Unmarshal(decrypted, &s.local); err != nil {
		common.LogWarn("Ignoring corrupt credential file %s: %v", s.localFile, err)
		s.local = make(map[string]string)
	}
}

func (s *Store) saveLocalStore() error {
	s.mu.RLock()
	data, err := json.Marshal(s.local)
	key := s.key
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	encrypted, err := encrypt(key, data)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}

	return os.WriteFile(s.localFile, encrypted, 0600)
}

func encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

func decrypt(key, data []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", common.ErrDecryption)
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
