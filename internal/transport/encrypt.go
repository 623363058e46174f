package transport

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
)

// EncryptOptions configures the "encrypt" transport plugin. AES128 is
// the default cipher.
type EncryptOptions struct {
	Cipher string `default:"AES128"`
	Key    string `validate:"required"`
}

// encryptTransport wraps a stream with AES-CTR keyed by the SHA-256 of
// Key, truncated to the cipher's key size. A random IV is written as the
// first block of the wrapped stream and read back on Unwrap.
type encryptTransport struct {
	key []byte
}

// NewEncryptTransport builds the transport for opts. Only AES128 is
// implemented; other named ciphers are rejected rather than silently
// downgraded.
func NewEncryptTransport(opts EncryptOptions) (Transport, error) {
	switch opts.Cipher {
	case "AES128", "":
	default:
		return nil, fmt.Errorf("transport: unsupported cipher %q", opts.Cipher)
	}
	if opts.Key == "" {
		return nil, fmt.Errorf("transport: encrypt plugin requires a key")
	}
	sum := sha256.Sum256([]byte(opts.Key))
	return &encryptTransport{key: sum[:16]}, nil // AES-128 key size
}

func (t *encryptTransport) Wrap(r io.Reader) (io.Reader, error) {
	block, err := aes.NewCipher(t.key)
	if err != nil {
		return nil, fmt.Errorf("transport: encrypt: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("transport: encrypt: generate iv: %w", err)
	}
	stream := cipher.NewCTR(block, iv)
	return io.MultiReader(
		bytes.NewReader(iv),
		&cipher.StreamReader{S: stream, R: r},
	), nil
}

func (t *encryptTransport) Unwrap(r io.Reader) (io.Reader, error) {
	block, err := aes.NewCipher(t.key)
	if err != nil {
		return nil, fmt.Errorf("transport: decrypt: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(r, iv); err != nil {
		return nil, fmt.Errorf("transport: decrypt: read iv: %w", err)
	}
	stream := cipher.NewCTR(block, iv)
	return &cipher.StreamReader{S: stream, R: r}, nil
}
