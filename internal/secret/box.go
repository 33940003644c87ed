// Package secret seals provider credential bundles with NaCl secretbox.
//
// A sealed value is "sb1:" followed by base64(nonce || box). Anything else
// is read as a plaintext JSON object.
package secret

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const sealedPrefix = "sb1:"

const (
	keySize   = 32
	nonceSize = 24
)

var (
	ErrNoKey     = errors.New("secret: sealed value but no key configured")
	ErrMalformed = errors.New("secret: malformed sealed value")
	ErrOpen      = errors.New("secret: cannot open sealed value")
)

type Box struct {
	key *[keySize]byte
}

// NewBox decodes a base64 32-byte key. An empty key yields a Box that only
// accepts plaintext JSON.
func NewBox(b64Key string) (*Box, error) {
	if b64Key == "" {
		return &Box{}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(b64Key)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", keySize, len(raw))
	}
	var k [keySize]byte
	copy(k[:], raw)
	return &Box{key: &k}, nil
}

func IsSealed(raw string) bool { return strings.HasPrefix(raw, sealedPrefix) }

func (b *Box) Seal(creds map[string]string) (string, error) {
	if b.key == nil {
		return "", ErrNoKey
	}
	plain, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("encode credentials: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], plain, &nonce, b.key)
	return sealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

func (b *Box) Open(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]string{}, nil
	}
	plain := []byte(raw)
	if IsSealed(raw) {
		if b.key == nil {
			return nil, ErrNoKey
		}
		data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(raw, sealedPrefix))
		if err != nil || len(data) < nonceSize+secretbox.Overhead {
			return nil, ErrMalformed
		}
		var nonce [nonceSize]byte
		copy(nonce[:], data[:nonceSize])
		opened, ok := secretbox.Open(nil, data[nonceSize:], &nonce, b.key)
		if !ok {
			return nil, ErrOpen
		}
		plain = opened
	}

	creds := map[string]string{}
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	return creds, nil
}
