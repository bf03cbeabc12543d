package session

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getvergo/autoflow/pkg/browser"
)

func TestVault_SealOpenRoundTrip(t *testing.T) {
	vault, err := NewVault(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	snap := &Snapshot{
		Cookies:      []browser.Cookie{{Name: "sid", Value: "secret-token", Domain: ".getvergo.com"}},
		LocalStorage: map[string]string{"k": "v"},
		UserAgent:    "ua",
		CapturedAtMs: time.Now().UnixMilli(),
	}

	blob, err := vault.Seal(snap)
	require.NoError(t, err)
	assert.NotContains(t, blob, "secret-token")

	out, err := vault.Open(blob)
	require.NoError(t, err)
	assert.Equal(t, snap.Cookies, out.Cookies)
	assert.Equal(t, snap.LocalStorage, out.LocalStorage)
}

func TestVault_WrongKeyFails(t *testing.T) {
	v1, err := NewVault(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	v2, err := NewVault(bytes.Repeat([]byte{2}, 32))
	require.NoError(t, err)

	blob, err := v1.Seal(&Snapshot{UserAgent: "ua"})
	require.NoError(t, err)

	_, err = v2.Open(blob)
	assert.Error(t, err)
}

func TestVault_KeyLength(t *testing.T) {
	_, err := NewVault([]byte("short"))
	assert.Error(t, err)
}

func TestVaultFromPassphrase(t *testing.T) {
	salt := bytes.Repeat([]byte{9}, vaultSaltSize)

	v1, err := NewVaultFromPassphrase("correct horse", salt)
	require.NoError(t, err)
	v2, err := NewVaultFromPassphrase("correct horse", salt)
	require.NoError(t, err)

	blob, err := v1.Seal(&Snapshot{UserAgent: "ua"})
	require.NoError(t, err)

	// Same passphrase and salt derive the same key.
	out, err := v2.Open(blob)
	require.NoError(t, err)
	assert.Equal(t, "ua", out.UserAgent)

	_, err = NewVaultFromPassphrase("", salt)
	assert.Error(t, err)
	_, err = NewVaultFromPassphrase("p", []byte("tiny"))
	assert.Error(t, err)
}
