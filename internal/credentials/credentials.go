// Package credentials stores the agent API credential encrypted at
// rest. The key is derived from the machine's hostname and username, so
// the file is portable only within the same machine and user context.
// This guards against casual file disclosure, not against a local
// attacker with code execution.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/parley-dev/parley/internal/models"
)

const (
	envelopeVersion = 1
	kdfIterations   = 100_000
	saltLen         = 32
	keyLen          = 32 // AES-256
)

// envelope is the on-disk format of credentials.enc. All fields except
// Version are hex-encoded.
type envelope struct {
	Version int    `json:"version"`
	Salt    string `json:"salt"`
	IV      string `json:"iv"`
	AuthTag string `json:"authTag"`
	Data    string `json:"data"`
}

// Store encrypts and decrypts the credential file.
type Store struct {
	path string

	// machineID is replaceable in tests.
	machineID func() []byte
}

// NewStore creates a credential store rooted at the given state directory.
func NewStore(dir string) *Store {
	return &Store{
		path:      filepath.Join(dir, "credentials.enc"),
		machineID: machineIdentity,
	}
}

// machineIdentity returns the key-derivation input: hostname plus
// username.
func machineIdentity() []byte {
	host, _ := os.Hostname()
	name := ""
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	return []byte(host + ":" + name)
}

func deriveKey(secret, salt []byte) []byte {
	return pbkdf2.Key(secret, salt, kdfIterations, keyLen, sha256.New)
}

// Save encrypts the credentials with a fresh salt and nonce and writes
// the envelope with restricted permissions. Overwrites any existing
// credential.
func (s *Store) Save(creds *models.Credentials) error {
	if creds.CreatedAt.IsZero() {
		creds.CreatedAt = time.Now().UTC()
	}

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(s.machineID(), salt))
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("init GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	// Seal appends the auth tag to the ciphertext; the envelope stores
	// them separately.
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	tagStart := len(sealed) - gcm.Overhead()

	env := envelope{
		Version: envelopeVersion,
		Salt:    hex.EncodeToString(salt),
		IV:      hex.EncodeToString(nonce),
		AuthTag: hex.EncodeToString(sealed[tagStart:]),
		Data:    hex.EncodeToString(sealed[:tagStart]),
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write credentials file: %w", err)
	}
	return nil
}

// Load decrypts the stored credentials. Returns (nil, nil) when the
// file is absent and on any parse or crypto failure; a tampered file is
// treated the same as a missing one.
func (s *Store) Load() (*models.Credentials, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	creds, err := s.decrypt(data)
	if err != nil {
		slog.Warn("credential decryption failed, treating as absent", "error", err)
		return nil, nil
	}
	return creds, nil
}

func (s *Store) decrypt(data []byte) (*models.Credentials, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version %d", env.Version)
	}

	salt, err := hex.DecodeString(env.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	nonce, err := hex.DecodeString(env.IV)
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", err)
	}
	tag, err := hex.DecodeString(env.AuthTag)
	if err != nil {
		return nil, fmt.Errorf("decode auth tag: %w", err)
	}
	ciphertext, err := hex.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(s.machineID(), salt))
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	var creds models.Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return &creds, nil
}

// Has reports whether a credential file exists.
func (s *Store) Has() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Delete removes the credential file.
func (s *Store) Delete() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
