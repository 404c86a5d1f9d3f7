package aescbc

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestRoundTrip(t *testing.T) {
	c, err := New([]byte(testKey))
	require.NoError(t, err)

	for _, plain := range []string{"", "p", "exactly16bytes!!", "Str0ng#Password with spaces"} {
		sealed, err := c.Encrypt(plain)
		require.NoError(t, err)
		parts := strings.Split(sealed, ":")
		require.Len(t, parts, 2)
		assert.Len(t, parts[0], 32)

		opened, err := c.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, plain, opened)
	}
}

func TestDecryptKnownVector(t *testing.T) {
	iv := []byte("fedcba9876543210")
	block, err := aes.NewCipher([]byte(testKey))
	require.NoError(t, err)
	padded := pad([]byte("student@123"))
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	c, err := New([]byte(testKey))
	require.NoError(t, err)
	got, err := c.Decrypt(hex.EncodeToString(iv) + ":" + hex.EncodeToString(ct))
	require.NoError(t, err)
	assert.Equal(t, "student@123", got)
}

func TestDecryptRejectsMalformed(t *testing.T) {
	c, err := New([]byte(testKey))
	require.NoError(t, err)

	cases := []string{"", "nocolon", "zz:00", "00:00", strings.Repeat("0", 32) + ":abc"}
	for _, tc := range cases {
		_, err := c.Decrypt(tc)
		assert.ErrorIs(t, err, ErrMalformed, tc)
	}
}

func TestDecryptWrongKeyFailsPadding(t *testing.T) {
	c, err := New([]byte(testKey))
	require.NoError(t, err)
	sealed, err := c.Encrypt("secret")
	require.NoError(t, err)

	other, err := New([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)
	_, err = other.Decrypt(sealed)
	// a wrong key yields garbage whose final byte is rarely valid padding
	if err != nil {
		assert.ErrorIs(t, err, ErrPadding)
	}
}

func TestNewRejectsBadKey(t *testing.T) {
	_, err := New([]byte("short"))
	require.Error(t, err)
}
