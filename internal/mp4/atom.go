// Package mp4 is the MP4/ISO-BMFF backend for the media capability
// interfaces. The Reader maps the sample tables of a progressive MP4 into
// storage-order packets; the Writer produces a new progressive MP4 from
// cloned stream descriptors and rebased packets. Fragmented input (moof) and
// files needing co64 offsets are out of scope.
package mp4

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// containerAtoms are parsed recursively when probing the atom tree.
var containerAtoms = map[string]bool{
	"moov": true,
	"trak": true,
	"mdia": true,
	"minf": true,
	"dinf": true,
	"stbl": true,
	"edts": true,
}

// Atom is one box of the MP4 atom tree. Offset and Size cover the whole box
// including its header.
type Atom struct {
	Offset   int64
	Size     int64
	Type     string
	Children []Atom
}

func (a Atom) String() string {
	return fmt.Sprintf("[%s] @ %d (size %d)", a.Type, a.Offset, a.Size)
}

// HeaderSize returns the size of the box header, 16 for boxes carrying an
// extended 64-bit size.
func (a Atom) HeaderSize() int64 {
	if a.Size > 0xFFFFFFFF {
		return 16
	}
	return 8
}

// Probe walks the file's atom tree without loading any payloads.
func Probe(file *os.File) ([]Atom, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	return parseAtoms(file, 0, info.Size())
}

func parseAtoms(file *os.File, start, end int64) ([]Atom, error) {
	var atoms []Atom
	offset := start

	for offset+8 <= end {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			return nil, err
		}

		header := make([]byte, 8)
		if _, err := io.ReadFull(file, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, err
		}

		size := int64(binary.BigEndian.Uint32(header[0:4]))
		typ := string(header[4:8])
		headerSize := int64(8)

		// Size 1 carries a 64-bit extended size after the type.
		if size == 1 {
			extended := make([]byte, 8)
			if _, err := io.ReadFull(file, extended); err != nil {
				return nil, err
			}
			size = int64(binary.BigEndian.Uint64(extended))
			headerSize = 16
		}

		// Size 0 means the box extends to the end of the file.
		if size == 0 {
			size = end - offset
		}
		if size < headerSize || offset+size > end {
			return nil, fmt.Errorf("malformed atom %q at offset %d: size %d", typ, offset, size)
		}

		atom := Atom{Offset: offset, Size: size, Type: typ}

		if containerAtoms[typ] {
			children, err := parseAtoms(file, offset+headerSize, offset+size)
			if err != nil {
				return nil, err
			}
			atom.Children = children
		}

		atoms = append(atoms, atom)
		offset += size
	}

	return atoms, nil
}

func findChild(parent Atom, typ string) *Atom {
	for i := range parent.Children {
		if parent.Children[i].Type == typ {
			return &parent.Children[i]
		}
	}
	return nil
}

func findAtom(atoms []Atom, typ string) *Atom {
	for i := range atoms {
		if atoms[i].Type == typ {
			return &atoms[i]
		}
	}
	return nil
}

// readPayload loads a box's payload, excluding the header.
func readPayload(f *os.File, atom Atom) ([]byte, error) {
	hs := atom.HeaderSize()
	if _, err := f.Seek(atom.Offset+hs, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, atom.Size-hs)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// readFullBoxHeader consumes the version and flags of a full box.
func readFullBoxHeader(r io.Reader) (version uint8, flags uint32, err error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, 0, err
	}
	val := binary.BigEndian.Uint32(buf)
	return uint8(val >> 24), val & 0x00FFFFFF, nil
}
