// Package cryptoutil implements the optional at-rest encryption of the
// Store's raw_json column. original_source's utils/crypto.py used Python's
// Fernet, which has no ecosystem equivalent anywhere in the example pack;
// this is built on the standard library's crypto/aes + cipher.NewGCM, the
// idiomatic Go choice for authenticated symmetric encryption (see
// DESIGN.md).
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const algorithm = "AES-256-GCM"

// EncEnvelope is the JSON shape stored in place of raw_json when at-rest
// encryption is enabled, matching spec.md §4.5's
// {__enc__, __alg__, __v__} envelope.
type EncEnvelope struct {
	Enc string `json:"__enc__"`
	Alg string `json:"__alg__"`
	V   int    `json:"__v__"`
}

// Cipher wraps a loaded 32-byte key for AES-256-GCM sealing/opening.
type Cipher struct {
	gcm cipher.AEAD
}

// LoadKey resolves the at-rest encryption key from DATA_COLLECTOR_ENC_KEY
// (base64-encoded 32 bytes) or, failing that, keyFile (base64 text,
// trimmed of surrounding whitespace). Returns an error naming which source
// was tried so a misconfigured collector fails loudly at startup rather
// than silently disabling encryption.
func LoadKey(keyFile string) ([]byte, error) {
	if v := os.Getenv("DATA_COLLECTOR_ENC_KEY"); v != "" {
		key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("decoding DATA_COLLECTOR_ENC_KEY: %w", err)
		}
		return key, nil
	}
	if keyFile == "" {
		return nil, errors.New("encryption enabled but neither DATA_COLLECTOR_ENC_KEY nor encryption_key_file is set")
	}
	raw, err := os.ReadFile(keyFile) // #nosec G304 -- path from trusted config
	if err != nil {
		return nil, fmt.Errorf("reading encryption key file %q: %w", keyFile, err)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key file %q: %w", keyFile, err)
	}
	return key, nil
}

// NewCipher builds a Cipher from a 32-byte key. Callers load the key once
// at startup from DATA_COLLECTOR_ENC_KEY or a key file; the collector
// refuses to start if encryption is enabled and no key is available.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("building AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("building GCM mode: %w", err)
	}
	return &Cipher{gcm: gcm}, nil
}

// Seal encrypts plaintext and returns the JSON-serialized envelope.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	sealed := c.gcm.Seal(nonce, nonce, plaintext, nil)
	env := EncEnvelope{
		Enc: base64.StdEncoding.EncodeToString(sealed),
		Alg: algorithm,
		V:   1,
	}
	return json.Marshal(env)
}

// Open reverses Seal, given the JSON-serialized envelope bytes.
func (c *Cipher) Open(data []byte) ([]byte, error) {
	var env EncEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parsing encryption envelope: %w", err)
	}
	if env.Alg != algorithm {
		return nil, fmt.Errorf("unsupported encryption algorithm %q", env.Alg)
	}
	sealed, err := base64.StdEncoding.DecodeString(env.Enc)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}
	nonceSize := c.gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	return c.gcm.Open(nil, nonce, ciphertext, nil)
}
