package crypto

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMaster(t *testing.T) []byte {
	t.Helper()
	k, err := GenerateMasterKey()
	require.NoError(t, err)
	b, err := hex.DecodeString(k)
	require.NoError(t, err)
	return b
}

func TestSealer_RoundTripBindsAssociatedData(t *testing.T) {
	s, err := NewSealerFromMaster(testMaster(t), "totp")
	require.NoError(t, err)

	blob, err := s.Seal([]byte("JBSWY3DPEHPK3PXP"), []byte("member-1"))
	require.NoError(t, err)

	plain, err := s.Open(blob, []byte("member-1"))
	require.NoError(t, err)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", string(plain))

	_, err = s.Open(blob, []byte("member-2"))
	assert.Error(t, err, "ciphertext must not open for another member")

	_, err = s.Open(blob[:4], []byte("member-1"))
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}

func TestDeriveKey_PurposeSeparation(t *testing.T) {
	master := testMaster(t)
	a, err := DeriveKey(master, "totp")
	require.NoError(t, err)
	b, err := DeriveKey(master, "other")
	require.NoError(t, err)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)

	_, err = DeriveKey([]byte("short"), "totp")
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
}

func TestReadMasterKey(t *testing.T) {
	k, err := GenerateMasterKey()
	require.NoError(t, err)

	t.Run("hex value", func(t *testing.T) {
		b, err := ReadMasterKey(k, "")
		require.NoError(t, err)
		assert.Len(t, b, MasterKeySize)
	})

	t.Run("file fallback", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "master.key")
		require.NoError(t, os.WriteFile(path, []byte(k+"\n"), 0o600))
		b, err := ReadMasterKey("", path)
		require.NoError(t, err)
		assert.Equal(t, k, hex.EncodeToString(b))
	})

	t.Run("wrong length", func(t *testing.T) {
		_, err := ReadMasterKey("abcd", "")
		assert.ErrorIs(t, err, ErrInvalidKeyLength)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := ReadMasterKey("", filepath.Join(t.TempDir(), "nope"))
		assert.Error(t, err)
	})
}

func TestRandomToken(t *testing.T) {
	a, err := RandomToken(16)
	require.NoError(t, err)
	b, err := RandomToken(16)
	require.NoError(t, err)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
