package platform

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildELF64 constructs a minimal well-formed 64-bit little-endian ELF
// image with the given program headers, enough for ParseImage to read
// class/machine/entry and the segment table.
func buildELF64(t *testing.T, entry uint64, segs []Segment) []byte {
	t.Helper()
	const ehsize = 64
	const phentsize = 56
	phoff := uint64(ehsize)

	buf := make([]byte, ehsize+phentsize*len(segs))
	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = byte(Class64)
	buf[5] = 1 // little-endian
	binary.LittleEndian.PutUint16(buf[18:20], 0x3e) // EM_X86_64
	binary.LittleEndian.PutUint64(buf[24:32], entry)
	binary.LittleEndian.PutUint64(buf[32:40], phoff)
	binary.LittleEndian.PutUint16(buf[54:56], phentsize)
	binary.LittleEndian.PutUint16(buf[56:58], uint16(len(segs)))

	for i, s := range segs {
		off := ehsize + i*phentsize
		binary.LittleEndian.PutUint32(buf[off:off+4], ptLoad)
		binary.LittleEndian.PutUint32(buf[off+4:off+8], uint32(s.Flags))
		binary.LittleEndian.PutUint64(buf[off+8:off+16], s.FileOff)
		binary.LittleEndian.PutUint64(buf[off+16:off+24], s.Vaddr)
		binary.LittleEndian.PutUint64(buf[off+32:off+40], s.FileSz)
		binary.LittleEndian.PutUint64(buf[off+40:off+48], s.MemSz)
	}
	return buf
}

func TestParseImageReadsHeaderFields(t *testing.T) {
	img := buildELF64(t, 0x401000, []Segment{
		{Vaddr: 0x400000, FileSz: 0x1000, MemSz: 0x1000, Flags: SegRead | SegExec},
	})
	parsed, err := ParseImage(img)
	require.NoError(t, err)
	require.Equal(t, Class64, parsed.Class)
	require.EqualValues(t, 0x401000, parsed.Entry)
	require.Len(t, parsed.Segments, 1)
}

func TestParseImageRejectsBadMagic(t *testing.T) {
	buf := make([]byte, 64)
	_, err := ParseImage(buf)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestParseImageRejectsTruncated(t *testing.T) {
	_, err := ParseImage([]byte{0x7f, 'E', 'L', 'F'})
	require.ErrorIs(t, err, ErrTruncated)
}

func TestParseImageRejectsOverlappingSegments(t *testing.T) {
	img := buildELF64(t, 0x1000, []Segment{
		{Vaddr: 0x1000, MemSz: 0x2000},
		{Vaddr: 0x1800, MemSz: 0x1000},
	})
	_, err := ParseImage(img)
	require.ErrorIs(t, err, ErrSegmentOverlap)
}

func TestValidateRejectsClassMismatch(t *testing.T) {
	img := Image{Class: Class64}
	require.ErrorIs(t, Validate(img, Class32), ErrClassMismatch)
	require.NoError(t, Validate(img, Class64))
}
