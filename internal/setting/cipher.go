package setting

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Cipher encrypts secret-like setting values with AES-256-CBC.
// Payloads are stored as "ivHex:cipherHex".
type Cipher struct {
	key    []byte
	logger *zap.SugaredLogger
}

// NewCipher derives a 32-byte key by truncating or zero-padding secret.
func NewCipher(secret string, logger *zap.SugaredLogger) *Cipher {
	key := make([]byte, 32)
	copy(key, secret)
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Cipher{key: key, logger: logger}
}

func (c *Cipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("read iv: %w", err)
	}
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

// Decrypt returns payload unchanged when it is not in "iv:cipher" form or cannot be decrypted.
func (c *Cipher) Decrypt(payload string) string {
	parts := strings.Split(payload, ":")
	if len(parts) != 2 {
		return payload
	}
	plain, err := c.decrypt(parts[0], parts[1])
	if err != nil {
		c.logger.Warnw("setting decryption failed", "err", err)
		return payload
	}
	return plain
}

func (c *Cipher) decrypt(ivHex, dataHex string) (string, error) {
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", fmt.Errorf("decode iv: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return "", errors.New("bad iv length")
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", errors.New("ciphertext is not a whole number of blocks")
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	out, err = pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errors.New("invalid padding")
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return b[:len(b)-n], nil
}
