package security

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/deepdriveio/botworker/pkg/types"
)

func TestNewManager(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{name: "valid 32-byte key", key: make([]byte, 32), wantErr: false},
		{name: "invalid short key", key: make([]byte, 16), wantErr: true},
		{name: "invalid long key", key: make([]byte, 64), wantErr: true},
		{name: "empty key", key: []byte{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManager(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewManager() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && m == nil {
				t.Error("NewManager() returned nil without error")
			}
		})
	}
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	key := make([]byte, 32)
	copy(key, []byte("test-encryption-key-32-bytes-!!"))

	m, err := NewManager(key)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{name: "simple string", plaintext: []byte("hello world")},
		{name: "json data", plaintext: []byte(`{"username":"admin","password":"secret123"}`)},
		{name: "binary data", plaintext: []byte{0x00, 0x01, 0x02, 0xFF, 0xFE, 0xFD}},
		{name: "large data", plaintext: bytes.Repeat([]byte("test"), 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := m.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if bytes.Equal(ciphertext, tt.plaintext) {
				t.Error("ciphertext should not equal plaintext")
			}

			decrypted, err := m.Decrypt(ciphertext)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(decrypted, tt.plaintext) {
				t.Errorf("decrypted data does not match original.\nGot:  %v\nWant: %v", decrypted, tt.plaintext)
			}
		})
	}
}

func TestDecryptErrors(t *testing.T) {
	key := make([]byte, 32)
	m, _ := NewManager(key)

	tests := []struct {
		name       string
		ciphertext []byte
	}{
		{name: "empty data", ciphertext: []byte{}},
		{name: "nil data", ciphertext: nil},
		{name: "too short data", ciphertext: []byte{0x01, 0x02}},
		{name: "corrupted data", ciphertext: bytes.Repeat([]byte("x"), 100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Decrypt(tt.ciphertext); err == nil {
				t.Error("Decrypt() should have failed")
			}
		})
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	key1 := make([]byte, 32)
	copy(key1, []byte("key-one-32-bytes-long-!!!!!!!!!!"))
	key2 := make([]byte, 32)
	copy(key2, []byte("key-two-32-bytes-long-!!!!!!!!!!"))

	m1, _ := NewManager(key1)
	m2, _ := NewManager(key2)

	ciphertext, err := m1.Encrypt([]byte("secret data"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if _, err := m2.Decrypt(ciphertext); err == nil {
		t.Error("Decrypt() should fail with the wrong key")
	}
}

func TestDecryptCredentialsRoundtrip(t *testing.T) {
	key := make([]byte, 32)
	m, _ := NewManager(key)

	creds := Credentials{
		CloudAccessKey:    "AKIA...",
		CloudAccessSecret: "shh",
		RegistryUser:      "ci",
		RegistryPass:      "hunter2",
	}
	data, err := json.Marshal(creds)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}

	ciphertext, err := m.Encrypt(data)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	secret := &types.Secret{Name: "build-creds", Data: ciphertext}
	got, err := m.DecryptCredentials(secret)
	if err != nil {
		t.Fatalf("DecryptCredentials() error = %v", err)
	}
	if got != creds {
		t.Errorf("DecryptCredentials() = %+v, want %+v", got, creds)
	}

	env := got.AsEnv()
	if env["REGISTRY_USER"] != "ci" {
		t.Errorf("AsEnv()[REGISTRY_USER] = %q, want %q", env["REGISTRY_USER"], "ci")
	}
}

func TestDecryptCredentialsNilSecret(t *testing.T) {
	key := make([]byte, 32)
	m, _ := NewManager(key)

	if _, err := m.DecryptCredentials(nil); err == nil {
		t.Error("DecryptCredentials() should fail with a nil secret")
	}
}
