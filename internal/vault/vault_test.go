package vault

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New("application-secret")
	require.NoError(t, err)

	blob, err := v.Encrypt("Bot.token.value")
	require.NoError(t, err)
	assert.NotContains(t, blob, "Bot.token.value")

	plain, err := v.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, "Bot.token.value", plain)
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	v, err := New("secret")
	require.NoError(t, err)

	a, _ := v.Encrypt("same")
	b, _ := v.Encrypt("same")
	assert.NotEqual(t, a, b)
}

func TestKeyIsFixedLengthForAnySecret(t *testing.T) {
	short, err := New("x")
	require.NoError(t, err)
	long, err := New(strings.Repeat("long-secret-", 40))
	require.NoError(t, err)

	assert.Len(t, short.key, keySize)
	assert.Len(t, long.key, keySize)

	again, _ := New("x")
	assert.Equal(t, short.key, again.key)

	blob, _ := short.Encrypt("token")
	plain, err := again.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, "token", plain)
}

func TestDecryptFailures(t *testing.T) {
	v, _ := New("secret")
	other, _ := New("rotated-secret")
	blob, _ := v.Encrypt("token")

	raw, _ := base64.StdEncoding.DecodeString(blob)
	raw[len(raw)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name string
		blob string
		v    *Vault
	}{
		{"not base64", "%%%", v},
		{"too short", base64.StdEncoding.EncodeToString([]byte("abc")), v},
		{"tampered", tampered, v},
		{"wrong key", blob, other},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.v.Decrypt(tt.blob)
			assert.ErrorIs(t, err, ErrDecryption)
		})
	}
}

func TestNewRejectsEmptySecret(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestSignVerifyMediaURL(t *testing.T) {
	v, _ := New("secret")
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return now }

	signed := v.SignMediaURL(42, time.Hour)
	assert.Equal(t, now.Add(time.Hour).Unix(), signed.ExpiresAt)
	assert.True(t, v.VerifyMediaURL(42, signed.ExpiresAt, signed.Signature))

	assert.False(t, v.VerifyMediaURL(43, signed.ExpiresAt, signed.Signature), "other media id")
	assert.False(t, v.VerifyMediaURL(42, signed.ExpiresAt+1, signed.Signature), "altered expiry")
	assert.False(t, v.VerifyMediaURL(42, signed.ExpiresAt, "zz"), "non-hex signature")

	other, _ := New("other-secret")
	other.now = v.now
	assert.False(t, other.VerifyMediaURL(42, signed.ExpiresAt, signed.Signature), "other key")

	now = now.Add(2 * time.Hour)
	assert.False(t, v.VerifyMediaURL(42, signed.ExpiresAt, signed.Signature), "expired")
}
