package ldb

import (
	"os"
	"sync"
	"syscall"
	"unsafe"

	tlerrors "tlog.app/go/errors"
)

// PageStore reads/writes fixed-size pages by id, the durable collaborator
// named out of scope by §1 — kept here, with two concrete implementations,
// because NodeCache's tests need something real to fault pages from.
type PageStore interface {
	PageSize() int
	PageCount() (uint64, error)
	ReadPage(id PageID, buf []byte) error
	WritePage(id PageID, buf []byte) error
	Allocate() (PageID, error)
	Sync(metadata bool) error
	IsReadOnly() bool
	Close() error
}

// MemPageStore is a growable in-memory page store, adapted from the
// teacher's MemBack: same mutex-guarded byte slice, resized on demand.
type MemPageStore struct {
	mu       sync.RWMutex
	pageSize int
	d        []byte
	next     PageID
}

func NewMemPageStore(pageSize int) *MemPageStore {
	return &MemPageStore{pageSize: pageSize, next: 2}
}

func (s *MemPageStore) PageSize() int { return s.pageSize }

func (s *MemPageStore) PageCount() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.d) / s.pageSize), nil
}

func (s *MemPageStore) ensure(id PageID) {
	need := (int(id) + 1) * s.pageSize
	if need <= len(s.d) {
		return
	}
	grown := make([]byte, need)
	copy(grown, s.d)
	s.d = grown
}

func (s *MemPageStore) ReadPage(id PageID, buf []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	off := int(id) * s.pageSize
	if off+s.pageSize > len(s.d) {
		return wrapIO("read", id, tlerrors.New("page out of range"))
	}
	copy(buf, s.d[off:off+s.pageSize])
	return nil
}

func (s *MemPageStore) WritePage(id PageID, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(id)
	off := int(id) * s.pageSize
	copy(s.d[off:off+s.pageSize], buf)
	return nil
}

func (s *MemPageStore) Allocate() (PageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.ensure(id)
	return id, nil
}

func (s *MemPageStore) Sync(bool) error  { return nil }
func (s *MemPageStore) IsReadOnly() bool { return false }
func (s *MemPageStore) Close() error     { return nil }

// FilePageStore is an mmap-backed page store, adapted from the teacher's
// MmapBack: the whole file is mapped once and grown (remap after truncate)
// as new pages are allocated.
type FilePageStore struct {
	mu       sync.RWMutex
	pageSize int
	f        *os.File
	d        []byte
	readOnly bool
	next     PageID
}

func OpenFilePageStore(path string, pageSize int, readOnly bool) (*FilePageStore, error) {
	flags := os.O_CREATE | os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, 0640)
	if err != nil {
		return nil, tlerrors.Wrap(err, "open page file")
	}
	s := &FilePageStore{pageSize: pageSize, f: f, readOnly: readOnly, next: 2}
	size, err := s.fileSize()
	if err != nil {
		return nil, err
	}
	if size > 0 {
		if err := s.mmap(size); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *FilePageStore) fileSize() (int64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, tlerrors.Wrap(err, "stat page file")
	}
	return info.Size(), nil
}

func (s *FilePageStore) mmap(size int64) error {
	prot := syscall.PROT_READ
	if !s.readOnly {
		prot |= syscall.PROT_WRITE
	}
	d, err := syscall.Mmap(int(s.f.Fd()), 0, int(size), prot, syscall.MAP_SHARED)
	if err != nil {
		return tlerrors.Wrap(err, "mmap page file")
	}
	s.d = d
	return nil
}

func (s *FilePageStore) unmap() error {
	if s.d == nil {
		return nil
	}
	err := syscall.Munmap(s.d)
	s.d = nil
	return err
}

func (s *FilePageStore) PageSize() int { return s.pageSize }

func (s *FilePageStore) PageCount() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.d) / s.pageSize), nil
}

func (s *FilePageStore) ReadPage(id PageID, buf []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	off := int(id) * s.pageSize
	if off+s.pageSize > len(s.d) {
		return wrapIO("read", id, tlerrors.New("page out of range"))
	}
	copy(buf, s.d[off:off+s.pageSize])
	return nil
}

func (s *FilePageStore) WritePage(id PageID, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.growLocked(id); err != nil {
		return err
	}
	off := int(id) * s.pageSize
	copy(s.d[off:off+s.pageSize], buf)
	return nil
}

func (s *FilePageStore) growLocked(id PageID) error {
	need := int64(int(id)+1) * int64(s.pageSize)
	if need <= int64(len(s.d)) {
		return nil
	}
	if err := s.unmap(); err != nil {
		return wrapIO("grow", id, err)
	}
	if err := s.f.Truncate(need); err != nil {
		return wrapIO("grow", id, err)
	}
	if err := s.mmap(need); err != nil {
		return wrapIO("grow", id, err)
	}
	return nil
}

func (s *FilePageStore) Allocate() (PageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	if err := s.growLocked(id); err != nil {
		return NilPage, err
	}
	return id, nil
}

func (s *FilePageStore) Sync(metadata bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.d) == 0 {
		return nil
	}
	_, _, errno := syscall.Syscall(syscall.SYS_MSYNC,
		uintptr(unsafe.Pointer(&s.d[0])), uintptr(len(s.d)), syscall.MS_SYNC)
	if errno != 0 {
		return wrapIO("sync", NilPage, errno)
	}
	if metadata {
		return s.f.Sync()
	}
	return nil
}

func (s *FilePageStore) IsReadOnly() bool { return s.readOnly }

func (s *FilePageStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.unmap(); err != nil {
		return err
	}
	return s.f.Close()
}
