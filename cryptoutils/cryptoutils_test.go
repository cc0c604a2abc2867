package cryptoutils

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndRecover(t *testing.T) {
	signer, err := GenerateSigner("web1")
	require.NoError(t, err)
	assert.Equal(t, "web1", signer.ID())

	sig, err := signer.Sign([]byte(signer.ID()))
	require.NoError(t, err)
	require.Len(t, sig, 65)

	addr, err := RecoverAddress([]byte("web1"), sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), addr)

	require.NoError(t, VerifySignature([]byte("web1"), sig, signer.Address()))

	// a signature over another identity recovers a different address
	err = VerifySignature([]byte("web2"), sig, signer.Address())
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	err = VerifySignature([]byte("web1"), sig, common.HexToAddress("0x0000000000000000000000000000000000000001"))
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	_, err = RecoverAddress([]byte("web1"), []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestNewSignerFromHex(t *testing.T) {
	const key = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

	signer, err := NewSignerFromHex("ctl", key)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"), signer.Address())

	_, err = NewSignerFromHex("ctl", "not-hex")
	assert.Error(t, err)
}

func TestSealOpen(t *testing.T) {
	key := DeriveCacheKey("passphrase", "/var/cache/vault")
	require.Len(t, key, 32)
	assert.Equal(t, key, DeriveCacheKey("passphrase", "/var/cache/vault"))
	assert.NotEqual(t, key, DeriveCacheKey("passphrase", "/tmp/other"))

	testCases := []struct {
		name string
		data []byte
	}{
		{name: "token record", data: []byte(`{"created":1,"payload":{"id":"hvs.x"}}`)},
		{name: "empty", data: []byte{}},
		{name: "binary", data: []byte{0x00, 0xFF, 0x10}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sealed, err := Seal(key, tc.data)
			require.NoError(t, err)

			opened, err := Open(key, sealed)
			require.NoError(t, err)
			assert.Equal(t, len(tc.data), len(opened))
			if len(tc.data) > 0 {
				assert.Equal(t, tc.data, opened)
			}

			_, err = Open(DeriveCacheKey("wrong", "/var/cache/vault"), sealed)
			assert.Error(t, err)
		})
	}

	_, err := Open(key, []byte{1, 2})
	assert.ErrorIs(t, err, ErrSealedDataTooShort)
}
