package platform

import (
	"encoding/binary"
	"errors"
)

// Class is the ELF class (32 or 64-bit), per §6.2.
type Class int

const (
	Class32 Class = 1
	Class64 Class = 2
)

// SegFlags is the R/W/X bitmask of a loadable segment.
type SegFlags uint8

const (
	SegExec SegFlags = 1 << iota
	SegWrite
	SegRead
)

// Segment is one loadable ELF segment (§6.2): its virtual address, file
// offset/size, memory size, and permission flags.
type Segment struct {
	Vaddr   uint64
	FileOff uint64
	FileSz  uint64
	MemSz   uint64
	Flags   SegFlags
}

func (s Segment) end() uint64 { return s.Vaddr + s.MemSz }

// Machine is the target instruction set architecture from the ELF
// header.
type Machine int

// Image is the parsed subset of an ELF executable's header the loader
// needs: its class, target machine, entry point, and loadable segments.
type Image struct {
	Class    Class
	Machine  Machine
	Entry    uint64
	Segments []Segment
}

var (
	// ErrBadMagic is returned when content does not start with the ELF
	// magic number.
	ErrBadMagic = errors.New("platform: not an ELF image")
	// ErrClassMismatch is returned when the image's class does not match
	// the target PD's, per §6.2: "rejects modules whose class does not
	// match the target PD."
	ErrClassMismatch = errors.New("platform: elf class mismatch")
	// ErrSegmentOverlap is returned when two loadable segments' virtual
	// ranges overlap, per §6.2.
	ErrSegmentOverlap = errors.New("platform: elf segments overlap")
	// ErrTruncated is returned when content is too short to contain a
	// valid ELF header.
	ErrTruncated = errors.New("platform: elf image truncated")
)

const elfHeaderMinLen = 64

// ParseImage parses the minimal ELF header fields §6.2 cares about. It
// does not implement full ELF semantics (section headers, relocations,
// dynamic linking) since the loader only needs class/machine/entry and
// the loadable-segment list to spawn a child PD.
func ParseImage(content []byte) (Image, error) {
	if len(content) < elfHeaderMinLen {
		return Image{}, ErrTruncated
	}
	if content[0] != 0x7f || content[1] != 'E' || content[2] != 'L' || content[3] != 'F' {
		return Image{}, ErrBadMagic
	}

	class := Class(content[4])
	var order binary.ByteOrder = binary.LittleEndian
	if content[5] == 2 {
		order = binary.BigEndian
	}

	machine := Machine(order.Uint16(content[18:20]))

	var entry uint64
	var phoff uint64
	var phentsize, phnum uint16
	if class == Class64 {
		entry = order.Uint64(content[24:32])
		phoff = order.Uint64(content[32:40])
		phentsize = order.Uint16(content[54:56])
		phnum = order.Uint16(content[56:58])
	} else {
		entry = uint64(order.Uint32(content[24:28]))
		phoff = uint64(order.Uint32(content[28:32]))
		phentsize = order.Uint16(content[42:44])
		phnum = order.Uint16(content[44:46])
	}

	segs, err := parseSegments(content, order, class, phoff, phentsize, phnum)
	if err != nil {
		return Image{}, err
	}

	return Image{Class: class, Machine: machine, Entry: entry, Segments: segs}, nil
}

const ptLoad = 1

func parseSegments(content []byte, order binary.ByteOrder, class Class, phoff uint64, phentsize, phnum uint16) ([]Segment, error) {
	var segs []Segment
	for i := uint16(0); i < phnum; i++ {
		off := phoff + uint64(i)*uint64(phentsize)
		if off+uint64(phentsize) > uint64(len(content)) {
			return nil, ErrTruncated
		}
		entry := content[off : off+uint64(phentsize)]

		var typ uint32
		var flags uint32
		var fileOff, vaddr, filesz, memsz uint64
		if class == Class64 {
			typ = order.Uint32(entry[0:4])
			flags = order.Uint32(entry[4:8])
			fileOff = order.Uint64(entry[8:16])
			vaddr = order.Uint64(entry[16:24])
			filesz = order.Uint64(entry[32:40])
			memsz = order.Uint64(entry[40:48])
		} else {
			typ = order.Uint32(entry[0:4])
			fileOff = uint64(order.Uint32(entry[4:8]))
			vaddr = uint64(order.Uint32(entry[8:12]))
			filesz = uint64(order.Uint32(entry[16:20]))
			memsz = uint64(order.Uint32(entry[20:24]))
			flags = order.Uint32(entry[24:28])
		}
		if typ != ptLoad {
			continue
		}
		segs = append(segs, Segment{
			Vaddr:   vaddr,
			FileOff: fileOff,
			FileSz:  filesz,
			MemSz:   memsz,
			Flags:   SegFlags(flags & 0x7),
		})
	}
	if err := checkOverlap(segs); err != nil {
		return nil, err
	}
	return segs, nil
}

func checkOverlap(segs []Segment) error {
	for i := 0; i < len(segs); i++ {
		for j := i + 1; j < len(segs); j++ {
			a, b := segs[i], segs[j]
			if a.Vaddr < b.end() && b.Vaddr < a.end() {
				return ErrSegmentOverlap
			}
		}
	}
	return nil
}

// Validate rejects img if its class does not match targetClass, per
// §6.2's "rejects modules whose class does not match the target PD."
// Segment overlap is already rejected during ParseImage.
func Validate(img Image, targetClass Class) error {
	if img.Class != targetClass {
		return ErrClassMismatch
	}
	return nil
}
