package copydeck

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

// ============================================================================
// Key derivation and handshake encryption
// ============================================================================

// gcmNonceSize is the IV length the server expects (standard GCM nonce).
const gcmNonceSize = 12

// deriveKey turns the project secret into an AES-256 key.
func deriveKey(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// cipherEnvelope is the wire form of an AES-GCM encrypted payload. The tag is
// carried separately from the ciphertext; all three fields are base64.
type cipherEnvelope struct {
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
	Tag        string `json:"tag"`
}

// encryptEnvelope seals plaintext under key with AES-GCM and a random nonce.
func encryptEnvelope(key, plaintext []byte) (*cipherEnvelope, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - gcm.Overhead()

	return &cipherEnvelope{
		IV:         base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed[:split]),
		Tag:        base64.StdEncoding.EncodeToString(sealed[split:]),
	}, nil
}

// decryptEnvelope reverses encryptEnvelope. It fails if any field is not
// valid base64 or if the tag does not authenticate.
func decryptEnvelope(key []byte, env *cipherEnvelope) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil {
		return nil, fmt.Errorf("decode tag: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return nil, fmt.Errorf("open envelope: %w", err)
	}
	return plaintext, nil
}
