package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

// Vault encrypts snapshots for external persistence. AES-256-GCM with a
// key derived from the operator passphrase via scrypt.
type Vault struct {
	key []byte
}

// vaultSaltSize is the minimum derivation salt length.
const vaultSaltSize = 16

// scrypt parameters: interactive-grade cost.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// NewVault creates a vault from a raw 32-byte key.
func NewVault(key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, errors.New("vault key must be 32 bytes for AES-256")
	}
	return &Vault{key: key}, nil
}

// deriveKey stretches the passphrase with the given salt.
func deriveKey(passphrase string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, 32)
}

// Seal serializes and encrypts a snapshot into an opaque blob:
// base64(nonce || ciphertext).
func (v *Vault) Seal(snap *Snapshot) (string, error) {
	plaintext, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open decrypts an opaque blob back into a snapshot.
func (v *Vault) Open(blob string) (*Snapshot, error) {
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("decode blob: %w", err)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	if len(data) < gcm.NonceSize() {
		return nil, errors.New("blob too short")
	}

	nonce, cipherBytes := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, cipherBytes, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(plaintext, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// NewVaultFromPassphrase derives the vault key from a passphrase and salt.
// The salt must be stored alongside the blobs it protects.
func NewVaultFromPassphrase(passphrase string, salt []byte) (*Vault, error) {
	if passphrase == "" {
		return nil, errors.New("vault passphrase must not be empty")
	}
	if len(salt) < vaultSaltSize {
		return nil, fmt.Errorf("vault salt must be at least %d bytes", vaultSaltSize)
	}
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, fmt.Errorf("derive vault key: %w", err)
	}
	return &Vault{key: key}, nil
}
