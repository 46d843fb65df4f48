// Package secret encrypts OAuth tokens before they reach persistent storage.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	keyTime    uint32 = 3
	keyMemory  uint32 = 64 * 1024
	keyThreads uint8  = 2
	keyLen     uint32 = 32

	formatVersion byte = 1
)

// keySalt is fixed so the same passphrase always derives the same key.
var keySalt = []byte("guildauth/token-vault/v1")

var (
	ErrEmptyKey          = errors.New("secret: encryption key is empty")
	ErrMalformedEnvelope = errors.New("secret: malformed ciphertext")
)

// Cipher seals values with AES-256-GCM. Envelope layout is
// version(1) | nonce(12) | ciphertext+tag.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives an AES-256 key from passphrase with argon2id.
func NewCipher(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, ErrEmptyKey
	}
	key := argon2.IDKey([]byte(passphrase), keySalt, keyTime, keyMemory, keyThreads, keyLen)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create aes block: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random nonce.
func (c *Cipher) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+c.aead.Overhead())
	out = append(out, formatVersion)
	out = append(out, nonce...)
	return c.aead.Seal(out, nonce, []byte(plaintext), nil), nil
}

// Decrypt opens an envelope produced by Encrypt.
func (c *Cipher) Decrypt(envelope []byte) (string, error) {
	nonceSize := c.aead.NonceSize()
	if len(envelope) < 1+nonceSize+c.aead.Overhead() || envelope[0] != formatVersion {
		return "", ErrMalformedEnvelope
	}
	nonce := envelope[1 : 1+nonceSize]
	plaintext, err := c.aead.Open(nil, nonce, envelope[1+nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}
