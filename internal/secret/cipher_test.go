package secret

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher("passphrase")
	require.NoError(t, err)

	for _, plaintext := range []string{"", "discord-access-token", "ünïcødé"} {
		sealed, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		if plaintext != "" {
			require.False(t, bytes.Contains(sealed, []byte(plaintext)))
		}
		opened, err := c.Decrypt(sealed)
		require.NoError(t, err)
		require.Equal(t, plaintext, opened)
	}
}

func TestCipherUsesFreshNonce(t *testing.T) {
	c, err := NewCipher("passphrase")
	require.NoError(t, err)
	a, err := c.Encrypt("token")
	require.NoError(t, err)
	b, err := c.Encrypt("token")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestCipherKeyIsStable(t *testing.T) {
	first, err := NewCipher("passphrase")
	require.NoError(t, err)
	second, err := NewCipher("passphrase")
	require.NoError(t, err)

	sealed, err := first.Encrypt("token")
	require.NoError(t, err)
	opened, err := second.Decrypt(sealed)
	require.NoError(t, err)
	require.Equal(t, "token", opened)
}

func TestCipherRejectsWrongKeyAndTampering(t *testing.T) {
	c, err := NewCipher("passphrase")
	require.NoError(t, err)
	other, err := NewCipher("other")
	require.NoError(t, err)

	sealed, err := c.Encrypt("token")
	require.NoError(t, err)

	_, err = other.Decrypt(sealed)
	require.Error(t, err)

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff
	_, err = c.Decrypt(tampered)
	require.Error(t, err)

	_, err = c.Decrypt([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestNewCipherRequiresKey(t *testing.T) {
	_, err := NewCipher("")
	require.ErrorIs(t, err, ErrEmptyKey)
}
