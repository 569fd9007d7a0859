package ldb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// xorCrypto is a fake Crypto that XORs every byte with a per-page key
// derived from the page id, just enough to prove encrypt/decrypt round trip
// and that WritePage never mutates the caller's buffer.
type xorCrypto struct{}

func keyFor(id PageID) byte { return byte(id*7 + 1) }

func (xorCrypto) DecryptPage(id PageID, buf []byte) error {
	k := keyFor(id)
	for i := range buf {
		buf[i] ^= k
	}
	return nil
}

func (xorCrypto) EncryptPage(id PageID, buf []byte, dst []byte) error {
	k := keyFor(id)
	for i := range buf {
		dst[i] = buf[i] ^ k
	}
	return nil
}

func TestCryptoPageStoreRoundTrip(t *testing.T) {
	source := NewMemPageStore(64)
	c := NewCryptoPageStore(source, xorCrypto{})

	id, err := c.Allocate()
	require.NoError(t, err)

	plain := make([]byte, 64)
	for i := range plain {
		plain[i] = byte(i)
	}
	require.NoError(t, c.WritePage(id, plain))

	// The underlying store must hold ciphertext, not plaintext.
	raw := make([]byte, 64)
	require.NoError(t, source.ReadPage(id, raw))
	require.NotEqual(t, plain, raw)

	got := make([]byte, 64)
	require.NoError(t, c.ReadPage(id, got))
	require.Equal(t, plain, got)
}

func TestCryptoPageStoreWriteDoesNotMutateCallerBuffer(t *testing.T) {
	source := NewMemPageStore(32)
	c := NewCryptoPageStore(source, xorCrypto{})

	id, err := c.Allocate()
	require.NoError(t, err)

	plain := make([]byte, 32)
	for i := range plain {
		plain[i] = byte(i * 3)
	}
	original := append([]byte(nil), plain...)

	require.NoError(t, c.WritePage(id, plain))
	require.Equal(t, original, plain, "WritePage must encrypt into a fresh buffer, not the caller's")
}

func TestCryptoPageStorePassesThroughOtherMethods(t *testing.T) {
	source := NewMemPageStore(16)
	c := NewCryptoPageStore(source, xorCrypto{})

	require.Equal(t, source.PageSize(), c.PageSize())
	require.False(t, c.IsReadOnly())

	_, err := c.Allocate()
	require.NoError(t, err)

	count, err := c.PageCount()
	require.NoError(t, err)
	sourceCount, err := source.PageCount()
	require.NoError(t, err)
	require.Equal(t, sourceCount, count)

	require.NoError(t, c.Sync(true))
	require.NoError(t, c.Close())
}
