// Package aescbc implements the password channel used by the login clients:
// AES-CBC with PKCS#7 padding, transported as "hex(iv):hex(ciphertext)".
package aescbc

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrMalformed is returned when the envelope is not "iv:ciphertext" in hex.
	ErrMalformed = errors.New("aescbc: malformed ciphertext")
	// ErrPadding is returned when the decrypted block has invalid padding.
	ErrPadding = errors.New("aescbc: invalid padding")
)

// Cipher encrypts and decrypts with a static key.
type Cipher struct {
	block cipher.Block
}

// New builds a Cipher from a 16, 24 or 32 byte key.
func New(key []byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aescbc: %w", err)
	}
	return &Cipher{block: block}, nil
}

// Decrypt opens an "hex(iv):hex(ciphertext)" envelope.
func (c *Cipher) Decrypt(envelope string) (string, error) {
	ivHex, ctHex, ok := strings.Cut(strings.TrimSpace(envelope), ":")
	if !ok {
		return "", ErrMalformed
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return "", ErrMalformed
	}
	ciphertext, err := hex.DecodeString(ctHex)
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", ErrMalformed
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plain, ciphertext)

	plain, err = unpad(plain)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Encrypt seals plaintext with a random IV.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("aescbc: read iv: %w", err)
	}
	padded := pad([]byte(plaintext))
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out, padded)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, ErrPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrPadding
		}
	}
	return data[:len(data)-n], nil
}
