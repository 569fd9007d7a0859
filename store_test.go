package ldb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemPageStoreRoundTrip(t *testing.T) {
	s := NewMemPageStore(512)
	id, err := s.Allocate()
	require.NoError(t, err)

	buf := make([]byte, 512)
	for i := range buf {
		buf[i] = byte(i)
	}
	require.NoError(t, s.WritePage(id, buf))

	got := make([]byte, 512)
	require.NoError(t, s.ReadPage(id, got))
	require.Equal(t, buf, got)

	count, err := s.PageCount()
	require.NoError(t, err)
	require.GreaterOrEqual(t, count, uint64(id)+1)
}

func TestMemPageStoreReadOutOfRangeFails(t *testing.T) {
	s := NewMemPageStore(512)
	buf := make([]byte, 512)
	err := s.ReadPage(99, buf)
	require.Error(t, err)
}

func TestMemPageStoreAllocateIsMonotonic(t *testing.T) {
	s := NewMemPageStore(512)
	a, err := s.Allocate()
	require.NoError(t, err)
	b, err := s.Allocate()
	require.NoError(t, err)
	require.Greater(t, uint64(b), uint64(a))
}

func TestFilePageStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.ldb")

	s, err := OpenFilePageStore(path, 512, false)
	require.NoError(t, err)

	id, err := s.Allocate()
	require.NoError(t, err)

	buf := make([]byte, 512)
	for i := range buf {
		buf[i] = byte(255 - i%256)
	}
	require.NoError(t, s.WritePage(id, buf))

	got := make([]byte, 512)
	require.NoError(t, s.ReadPage(id, got))
	require.Equal(t, buf, got)
	require.NoError(t, s.Close())
}

func TestFilePageStoreReopenReadOnlySeesPriorWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.ldb")

	s, err := OpenFilePageStore(path, 512, false)
	require.NoError(t, err)
	id, err := s.Allocate()
	require.NoError(t, err)
	buf := make([]byte, 512)
	buf[0] = 0x42
	require.NoError(t, s.WritePage(id, buf))
	require.NoError(t, s.Sync(true))
	require.NoError(t, s.Close())

	ro, err := OpenFilePageStore(path, 512, true)
	require.NoError(t, err)
	require.True(t, ro.IsReadOnly())
	got := make([]byte, 512)
	require.NoError(t, ro.ReadPage(id, got))
	require.Equal(t, byte(0x42), got[0])
	require.NoError(t, ro.Close())
}
