package config

import (
	"crypto/rand"
	"encoding/base64"
	"io"

	"gopkg.in/yaml.v3"
)

// SecretString wraps a string value that should be treated as sensitive.
// Secret values are hidden in logs.
type SecretString struct {
	value    string
	isSecret bool
}

// NewSecretString creates a new SecretString with the given value.
func NewSecretString(value string) SecretString {
	return SecretString{value: value, isSecret: true}
}

// Value returns the actual secret value.
func (s SecretString) Value() string {
	return s.value
}

// IsSecret returns true if this value was tagged !secret.
func (s SecretString) IsSecret() bool {
	return s.isSecret
}

// String returns a redacted representation for logging.
func (s SecretString) String() string {
	if s.isSecret && s.value != "" {
		return "[hidden]"
	}
	return s.value
}

// IsAuto returns true if this is the special "auto" value for auto-generation.
func (s SecretString) IsAuto() bool {
	return s.value == "auto"
}

// UnmarshalYAML implements yaml.Unmarshaler to handle the !secret tag.
func (s *SecretString) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!secret" {
		s.isSecret = true
	}
	var value string
	if err := node.Decode(&value); err != nil {
		return err
	}
	s.value = value
	return nil
}

// GenerateSecret returns a random secret for dev mode sessions.
func GenerateSecret() (SecretString, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return SecretString{}, err
	}
	return NewSecretString(base64.StdEncoding.EncodeToString(b)), nil
}
