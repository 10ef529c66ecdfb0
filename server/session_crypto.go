package server

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

// SessionData represents the encrypted session payload
type SessionData struct {
	ID        string            `json:"i"`
	Values    map[string]string `json:"d"`
	Timeout   int               `json:"t"` // minutes
	ExpiresAt time.Time         `json:"e"`
}

// IsExpired returns true if the session has expired
func (s *SessionData) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// sessionKeyInfo binds derived keys to their use.
const sessionKeyInfo = "sorrel session cookie v1"

// deriveKey derives a 32-byte AES-256 key from a secret string using HKDF-SHA256
func deriveKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, errors.New("empty session secret")
	}
	// Expand the secret into exactly one AES-256 key
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(sessionKeyInfo)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// encryptSession encrypts session data using AES-256-GCM
// Returns base64-encoded string: base64(nonce[12] + ciphertext + tag[16])
func encryptSession(data *SessionData, key []byte) (string, error) {
	// Serialize to JSON
	plaintext, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	// Create cipher
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	// Generate random nonce
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	// Encrypt (nonce is prepended to ciphertext)
	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)

	// Base64 encode (URL-safe, cookie values cannot carry padding)
	return base64.RawURLEncoding.EncodeToString(ciphertext), nil
}

// decryptSession decrypts session data using AES-256-GCM
// Expects the encoding produced by encryptSession
func decryptSession(encoded string, key []byte) (*SessionData, error) {
	// Base64 decode
	ciphertext, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}

	// Create cipher
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	// Check minimum size (nonce + tag)
	if len(ciphertext) < gcm.NonceSize()+gcm.Overhead() {
		return nil, errors.New("ciphertext too short")
	}

	// Extract nonce and decrypt
	nonce := ciphertext[:gcm.NonceSize()]
	plaintext, err := gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
	if err != nil {
		return nil, err
	}

	// Deserialize JSON
	var data SessionData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, err
	}

	// Initialize map if nil (empty JSON object)
	if data.Values == nil {
		data.Values = make(map[string]string)
	}
	return &data, nil
}

// newGCM creates an AES-GCM cipher for key
func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
