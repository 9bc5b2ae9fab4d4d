package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	fileFormatVersion = "1"
	pbkdf2Iterations  = 100_000
	saltLength        = 16
)

// fileEnvelope is the on-disk representation. When Encrypted, Payload
// holds base64(nonce || AES-256-GCM ciphertext) of the JSON entry map
// and Salt the PBKDF2 salt; otherwise Payload is the plain JSON map.
type fileEnvelope struct {
	Version   string          `json:"version"`
	Encrypted bool            `json:"encrypted"`
	Salt      string          `json:"salt,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// FileStore is a StateStore persisted to a single JSON file with 0600
// permissions. With a passphrase the entry map is encrypted at rest
// using AES-256-GCM with a PBKDF2-derived key.
type FileStore struct {
	mu         sync.Mutex
	path       string
	passphrase string
	entries    map[string]string
}

// NewFileStore opens or creates a file-backed store at path. An
// existing file is loaded eagerly so a corrupt store fails at startup
// rather than mid-operation.
func NewFileStore(path, passphrase string) (*FileStore, error) {
	s := &FileStore{
		path:       path,
		passphrase: passphrase,
		entries:    make(map[string]string),
	}

	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("failed to load state file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat state file %s: %w", path, err)
	}

	return s, nil
}

// Get returns the value for key and whether it was present.
func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	return v, ok, nil
}

// Set writes the value for key and flushes the file.
func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
	return s.flush()
}

// Delete removes key and flushes the file.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return s.flush()
}

// flush writes the current entry map to disk. Caller holds the lock.
func (s *FileStore) flush() error {
	plain, err := json.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	env := fileEnvelope{Version: fileFormatVersion}

	if s.passphrase != "" {
		salt := make([]byte, saltLength)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("failed to generate salt: %w", err)
		}
		sealed, err := seal(plain, s.passphrase, salt)
		if err != nil {
			return err
		}
		env.Encrypted = true
		env.Salt = base64.StdEncoding.EncodeToString(salt)
		env.Payload, err = json.Marshal(base64.StdEncoding.EncodeToString(sealed))
		if err != nil {
			return err
		}
	} else {
		env.Payload = plain
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state envelope: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	// Write-then-rename so an interrupted write can never leave a
	// truncated file behind. load fails the constructor on a corrupt
	// file, so a partial write would brick the store.
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set state file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// load reads and decodes the state file. Caller holds the lock or is
// the constructor.
func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var env fileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to parse state envelope: %w", err)
	}

	plain := []byte(env.Payload)
	if env.Encrypted {
		if s.passphrase == "" {
			return fmt.Errorf("state file is encrypted but no passphrase configured")
		}
		var b64 string
		if err := json.Unmarshal(env.Payload, &b64); err != nil {
			return fmt.Errorf("failed to decode encrypted payload: %w", err)
		}
		sealed, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return fmt.Errorf("failed to decode encrypted payload: %w", err)
		}
		salt, err := base64.StdEncoding.DecodeString(env.Salt)
		if err != nil {
			return fmt.Errorf("failed to decode salt: %w", err)
		}
		plain, err = open(sealed, s.passphrase, salt)
		if err != nil {
			return err
		}
	}

	entries := make(map[string]string)
	if err := json.Unmarshal(plain, &entries); err != nil {
		return fmt.Errorf("failed to parse state entries: %w", err)
	}
	s.entries = entries
	return nil
}

// seal encrypts plaintext with AES-256-GCM, key derived via PBKDF2.
// Output is nonce || ciphertext.
func seal(plain []byte, passphrase string, salt []byte) ([]byte, error) {
	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

// open decrypts nonce || ciphertext produced by seal.
func open(sealed []byte, passphrase string, salt []byte) ([]byte, error) {
	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("encrypted payload too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state file: %w", err)
	}
	return plain, nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
