package ldb

import "encoding/binary"

// fragmentDescriptor is the on-page body of a value whose 'f' header bit is
// set: a value too large for a single leaf entry, replaced by a pointer to
// the pages holding the real bytes. Reassembly itself is the external
// fragmented-value service named out of scope by §1; this encode/decode
// keeps the header/flag machinery testable without it.
type fragmentDescriptor struct {
	// totalLen is the full logical value length before fragmentation.
	totalLen uint64
	// inline holds bytes stored directly in the descriptor, before the
	// first full fragment page — mirrors the source's "inline content"
	// optimization for values just over the threshold.
	inline []byte
	// pages is the fragment chain, one page id per fragment.
	pages []PageID
}

// descriptor layout: [0:8] totalLen, [8:10] inline length, inline bytes,
// then one 6-byte page id per fragment (48 significant bits, per §3).
func encodeFragmentDescriptor(d *fragmentDescriptor) []byte {
	buf := make([]byte, 10+len(d.inline)+6*len(d.pages))
	binary.LittleEndian.PutUint64(buf[0:8], d.totalLen)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(len(d.inline)))
	off := 10
	off += copy(buf[off:], d.inline)
	for _, p := range d.pages {
		v := uint64(p)
		for i := 0; i < 6; i++ {
			buf[off+i] = byte(v)
			v >>= 8
		}
		off += 6
	}
	return buf
}

func decodeFragmentDescriptor(buf []byte) *fragmentDescriptor {
	d := &fragmentDescriptor{
		totalLen: binary.LittleEndian.Uint64(buf[0:8]),
	}
	inlineLen := int(binary.LittleEndian.Uint16(buf[8:10]))
	off := 10
	d.inline = append([]byte(nil), buf[off:off+inlineLen]...)
	off += inlineLen
	for off+6 <= len(buf) {
		var v uint64
		for i := 5; i >= 0; i-- {
			v = v<<8 | uint64(buf[off+i])
		}
		d.pages = append(d.pages, PageID(v))
		off += 6
	}
	return d
}

// fragmentService is the minimal collaborator interface for fragmenting
// values that exceed MaxEntrySize. Nothing in the module calls it: leaf
// inserts only set the fragmented flag. The implementation that
// allocates/frees fragment pages is external; fragment_test.go exercises
// the interface with a fake.
type fragmentService interface {
	fragment(value []byte) (descriptor []byte, err error)
	reconstruct(descriptor []byte) (value []byte, err error)
	addTrash(key, value []byte) error
}
