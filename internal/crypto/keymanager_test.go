package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known throwaway key (hardhat account #0).
const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
const testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "hunter2")
	require.NoError(t, err)

	_, err = DecryptKey(blob, "wrong")
	require.Error(t, err)
}

func TestEncryptRejectsBadKey(t *testing.T) {
	_, err := EncryptKey("nothex", "hunter2")
	require.Error(t, err)

	_, err = EncryptKey("abcd", "hunter2") // too short
	require.Error(t, err)

	_, err = EncryptKey(testKeyHex, "")
	require.Error(t, err)
}

func TestResolveWalletFromRawKey(t *testing.T) {
	w, err := ResolveWallet(WalletConfig{RawPrivateKey: "0x" + testKeyHex})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, w.PrivateKeyHex)
	assert.Equal(t, testAddress, w.Address)
}

func TestResolveWalletFromEncryptedFile(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "hunter2")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "wallet.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	w, err := ResolveWallet(WalletConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, testAddress, w.Address)
}

func TestResolveWalletNoSource(t *testing.T) {
	_, err := ResolveWallet(WalletConfig{})
	require.Error(t, err)
}
