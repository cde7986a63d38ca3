package crypto

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	keyHex := hex.EncodeToString(ethcrypto.FromECDSA(key))

	blob, err := EncryptKey("0x"+keyHex, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, keyHex, got)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}

func TestLoadSigningKey(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	keyHex := hex.EncodeToString(ethcrypto.FromECDSA(key))
	want := ethcrypto.PubkeyToAddress(key.PublicKey)

	t.Run("raw", func(t *testing.T) {
		pk, err := LoadSigningKey(KeySource{RawPrivateKey: "0x" + keyHex})
		require.NoError(t, err)
		assert.Equal(t, want, ethcrypto.PubkeyToAddress(pk.PublicKey))
	})

	t.Run("encrypted file", func(t *testing.T) {
		blob, err := EncryptKey(keyHex, "pw")
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "proposer.json")
		require.NoError(t, os.WriteFile(path, blob, 0o600))

		src := KeySource{EncryptedKeyPath: path, KeyPassword: "pw"}
		assert.True(t, src.Configured())
		pk, err := LoadSigningKey(src)
		require.NoError(t, err)
		assert.Equal(t, want, ethcrypto.PubkeyToAddress(pk.PublicKey))
	})

	t.Run("nothing configured", func(t *testing.T) {
		assert.False(t, KeySource{}.Configured())
		_, err := LoadSigningKey(KeySource{})
		assert.Error(t, err)
	})

	t.Run("bad hex", func(t *testing.T) {
		_, err := LoadSigningKey(KeySource{RawPrivateKey: "0xnothex"})
		assert.Error(t, err)
	})
}
