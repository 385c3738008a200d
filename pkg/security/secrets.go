package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"

	"github.com/deepdriveio/botworker/pkg/types"
)

// Manager decrypts the registry-held credential blobs a build job
// needs (cloud access key/secret, registry user/pass) into a plain
// encrypt/decrypt helper whose output feeds container env.
type Manager struct {
	key []byte // 32 bytes for AES-256
}

// NewManager returns a Manager using key, which must be 32 bytes.
func NewManager(key []byte) (*Manager, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("security: encryption key must be 32 bytes for AES-256, got %d", len(key))
	}
	return &Manager{key: key}, nil
}

// Encrypt encrypts plaintext using AES-256-GCM, prepending the nonce.
func (m *Manager) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(m.key)
	if err != nil {
		return nil, fmt.Errorf("security: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: new GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt.
func (m *Manager) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("security: cannot decrypt empty data")
	}

	block, err := aes.NewCipher(m.key)
	if err != nil {
		return nil, fmt.Errorf("security: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: new GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("security: ciphertext too short")
	}
	nonce, data := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, data, nil)
	if err != nil {
		return nil, fmt.Errorf("security: decrypt: %w", err)
	}
	return plaintext, nil
}

// Credentials are the build-time secrets a SIM_BUILD/DEEPDRIVE_BUILD
// job injects as container env.
type Credentials struct {
	CloudAccessKey    string `json:"cloud_access_key"`
	CloudAccessSecret string `json:"cloud_access_secret"`
	RegistryUser      string `json:"registry_user"`
	RegistryPass      string `json:"registry_pass"`
}

// DecryptCredentials decrypts secret.Data and parses it as
// Credentials.
func (m *Manager) DecryptCredentials(secret *types.Secret) (Credentials, error) {
	if secret == nil {
		return Credentials{}, fmt.Errorf("security: secret cannot be nil")
	}

	plaintext, err := m.Decrypt(secret.Data)
	if err != nil {
		return Credentials{}, err
	}

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return Credentials{}, fmt.Errorf("security: parse credentials: %w", err)
	}
	return creds, nil
}

// AsEnv flattens Credentials into the env map a build container
// receives.
func (c Credentials) AsEnv() map[string]string {
	return map[string]string{
		"CLOUD_ACCESS_KEY":    c.CloudAccessKey,
		"CLOUD_ACCESS_SECRET": c.CloudAccessSecret,
		"REGISTRY_USER":       c.RegistryUser,
		"REGISTRY_PASS":       c.RegistryPass,
	}
}
