package mp4

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

type sttsEntry struct {
	Count    uint32
	Duration uint32
}

type stscEntry struct {
	FirstChunk      uint32
	SamplesPerChunk uint32
	SampleDescID    uint32
}

type cttsEntry struct {
	Count  uint32
	Offset int32
}

func parseStts(payload []byte) ([]sttsEntry, error) {
	r := bytes.NewReader(payload)
	if _, _, err := readFullBoxHeader(r); err != nil {
		return nil, err
	}
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	entries := make([]sttsEntry, count)
	for i := range entries {
		if err := binary.Read(r, binary.BigEndian, &entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// parseStss returns the 1-based sync sample numbers. Callers must
// distinguish a missing box (every sample is a sync sample) from an empty
// one (none is).
func parseStss(payload []byte) ([]uint32, error) {
	r := bytes.NewReader(payload)
	if _, _, err := readFullBoxHeader(r); err != nil {
		return nil, err
	}
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	entries := make([]uint32, count)
	for i := range entries {
		if err := binary.Read(r, binary.BigEndian, &entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func parseStco(payload []byte) ([]uint64, error) {
	r := bytes.NewReader(payload)
	if _, _, err := readFullBoxHeader(r); err != nil {
		return nil, err
	}
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	offsets := make([]uint64, count)
	for i := range offsets {
		var v uint32
		if err := binary.Read(r, binary.BigEndian, &v); err != nil {
			return nil, err
		}
		offsets[i] = uint64(v)
	}
	return offsets, nil
}

func parseCo64(payload []byte) ([]uint64, error) {
	r := bytes.NewReader(payload)
	if _, _, err := readFullBoxHeader(r); err != nil {
		return nil, err
	}
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	offsets := make([]uint64, count)
	for i := range offsets {
		if err := binary.Read(r, binary.BigEndian, &offsets[i]); err != nil {
			return nil, err
		}
	}
	return offsets, nil
}

// parseStsz returns the fixed sample size, or 0 and the per-sample sizes.
func parseStsz(payload []byte) (uint32, []uint32, error) {
	r := bytes.NewReader(payload)
	if _, _, err := readFullBoxHeader(r); err != nil {
		return 0, nil, err
	}
	var fixed, count uint32
	if err := binary.Read(r, binary.BigEndian, &fixed); err != nil {
		return 0, nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return 0, nil, err
	}
	if fixed != 0 {
		return fixed, nil, nil
	}
	sizes := make([]uint32, count)
	for i := range sizes {
		if err := binary.Read(r, binary.BigEndian, &sizes[i]); err != nil {
			return 0, nil, err
		}
	}
	return 0, sizes, nil
}

func parseStsc(payload []byte) ([]stscEntry, error) {
	r := bytes.NewReader(payload)
	if _, _, err := readFullBoxHeader(r); err != nil {
		return nil, err
	}
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	entries := make([]stscEntry, count)
	for i := range entries {
		if err := binary.Read(r, binary.BigEndian, &entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func parseCtts(payload []byte) ([]cttsEntry, error) {
	r := bytes.NewReader(payload)
	version, _, err := readFullBoxHeader(r)
	if err != nil {
		return nil, err
	}
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	entries := make([]cttsEntry, count)
	for i := range entries {
		if err := binary.Read(r, binary.BigEndian, &entries[i].Count); err != nil {
			return nil, err
		}
		if version == 0 {
			// Version 0 offsets are unsigned.
			var off uint32
			if err := binary.Read(r, binary.BigEndian, &off); err != nil {
				return nil, err
			}
			entries[i].Offset = int32(off)
		} else {
			if err := binary.Read(r, binary.BigEndian, &entries[i].Offset); err != nil {
				return nil, err
			}
		}
	}
	return entries, nil
}

// parseMdhd returns the media timescale and duration.
func parseMdhd(payload []byte) (timescale uint32, duration uint64, err error) {
	r := bytes.NewReader(payload)
	version, _, err := readFullBoxHeader(r)
	if err != nil {
		return 0, 0, err
	}
	if version == 1 {
		// creation and modification times are 64-bit.
		if _, err := r.Seek(16, 1); err != nil {
			return 0, 0, err
		}
		if err := binary.Read(r, binary.BigEndian, &timescale); err != nil {
			return 0, 0, err
		}
		if err := binary.Read(r, binary.BigEndian, &duration); err != nil {
			return 0, 0, err
		}
		return timescale, duration, nil
	}
	if _, err := r.Seek(8, 1); err != nil {
		return 0, 0, err
	}
	if err := binary.Read(r, binary.BigEndian, &timescale); err != nil {
		return 0, 0, err
	}
	var dur32 uint32
	if err := binary.Read(r, binary.BigEndian, &dur32); err != nil {
		return 0, 0, err
	}
	// An all-ones duration means "unknown" in 32-bit headers.
	if dur32 == 0xFFFFFFFF {
		return timescale, 0, nil
	}
	return timescale, uint64(dur32), nil
}

// parseMvhd returns the movie timescale and duration.
func parseMvhd(payload []byte) (timescale uint32, duration uint64, err error) {
	// Layout matches mdhd up to the duration field.
	return parseMdhd(payload)
}

type trackHeader struct {
	Flags   uint32
	TrackID uint32
	Volume  uint16
	Width   uint32
	Height  uint32
}

func parseTkhd(payload []byte) (*trackHeader, error) {
	r := bytes.NewReader(payload)
	version, flags, err := readFullBoxHeader(r)
	if err != nil {
		return nil, err
	}
	th := &trackHeader{Flags: flags}

	// creation and modification times precede the track ID.
	timeSize := int64(8)
	if version == 1 {
		timeSize = 16
	}
	if _, err := r.Seek(timeSize, 1); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &th.TrackID); err != nil {
		return nil, err
	}
	// reserved(4) + duration(4 or 8) + reserved(8) + layer(2) + group(2)
	skip := int64(4 + 4 + 8 + 2 + 2)
	if version == 1 {
		skip = 4 + 8 + 8 + 2 + 2
	}
	if _, err := r.Seek(skip, 1); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &th.Volume); err != nil {
		return nil, err
	}
	// reserved(2) + matrix(36)
	if _, err := r.Seek(2+36, 1); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &th.Width); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &th.Height); err != nil {
		return nil, err
	}
	// Width and height are 16.16 fixed point.
	th.Width >>= 16
	th.Height >>= 16
	return th, nil
}

// handlerType extracts the four-character handler from an hdlr payload.
func handlerType(payload []byte) (string, error) {
	if len(payload) < 12 {
		return "", fmt.Errorf("hdlr payload too short: %d bytes", len(payload))
	}
	// version/flags(4) + pre_defined(4) precede the handler type.
	return string(payload[8:12]), nil
}
