package mp4

import (
	"fmt"
	"io"
	"os"
	"sort"

	"replaytrim/internal/media"
)

// sample is one mapped entry of a track's sample table.
type sample struct {
	offset   int64
	size     int64
	dts      int64
	pts      int64
	duration int64
	keyframe bool
}

// packetRef locates one packet in storage order across all tracks.
type packetRef struct {
	stream int
	sample
}

// Reader demuxes a progressive MP4 file. It implements media.Demuxer.
//
// All sample tables are mapped up front; packets are then served in byte
// offset order, which is the file's storage order.
type Reader struct {
	file    *os.File
	path    string
	streams []media.StreamDescriptor
	packets []packetRef
	cursor  int

	movieTimescale uint32
	movieDuration  uint64
}

// Open opens path and maps its streams and sample tables. The returned
// Reader owns the file handle.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	r := &Reader{file: file, path: path}
	if err := r.load(); err != nil {
		file.Close()
		return nil, fmt.Errorf("demux %s: %w", path, err)
	}
	return r, nil
}

func (r *Reader) load() error {
	atoms, err := Probe(r.file)
	if err != nil {
		return err
	}

	moov := findAtom(atoms, "moov")
	if moov == nil {
		return fmt.Errorf("no moov atom")
	}

	if mvhd := findChild(*moov, "mvhd"); mvhd != nil {
		payload, err := readPayload(r.file, *mvhd)
		if err != nil {
			return err
		}
		r.movieTimescale, r.movieDuration, err = parseMvhd(payload)
		if err != nil {
			return err
		}
	}

	index := 0
	for _, child := range moov.Children {
		if child.Type != "trak" {
			continue
		}
		desc, samples, err := r.parseTrack(child, index)
		if err != nil {
			return fmt.Errorf("track %d: %w", index, err)
		}
		r.streams = append(r.streams, *desc)
		for _, s := range samples {
			r.packets = append(r.packets, packetRef{stream: index, sample: s})
		}
		index++
	}

	if len(r.streams) == 0 {
		return fmt.Errorf("no tracks in moov")
	}

	// Storage order is byte offset order. Ties cannot happen in a sane
	// file but keep the sort stable on stream index regardless.
	sort.SliceStable(r.packets, func(i, j int) bool {
		return r.packets[i].offset < r.packets[j].offset
	})
	return nil
}

func (r *Reader) parseTrack(trak Atom, index int) (*media.StreamDescriptor, []sample, error) {
	desc := &media.StreamDescriptor{Index: index}

	tkhdAtom := findChild(trak, "tkhd")
	if tkhdAtom == nil {
		return nil, nil, fmt.Errorf("missing tkhd")
	}
	tkhdPayload, err := readPayload(r.file, *tkhdAtom)
	if err != nil {
		return nil, nil, err
	}
	th, err := parseTkhd(tkhdPayload)
	if err != nil {
		return nil, nil, err
	}
	desc.Default = th.Flags&0x1 != 0
	desc.Volume = th.Volume
	desc.Width = th.Width
	desc.Height = th.Height

	mdia := findChild(trak, "mdia")
	if mdia == nil {
		return nil, nil, fmt.Errorf("missing mdia")
	}
	mdhd := findChild(*mdia, "mdhd")
	if mdhd == nil {
		return nil, nil, fmt.Errorf("missing mdhd")
	}
	mdhdPayload, err := readPayload(r.file, *mdhd)
	if err != nil {
		return nil, nil, err
	}
	timescale, duration, err := parseMdhd(mdhdPayload)
	if err != nil {
		return nil, nil, err
	}
	if timescale == 0 {
		return nil, nil, fmt.Errorf("zero timescale")
	}
	desc.TimeBase = media.Rational{Num: 1, Den: int64(timescale)}
	desc.Duration = int64(duration)

	hdlr := findChild(*mdia, "hdlr")
	if hdlr == nil {
		return nil, nil, fmt.Errorf("missing hdlr")
	}
	hdlrPayload, err := readPayload(r.file, *hdlr)
	if err != nil {
		return nil, nil, err
	}
	handler, err := handlerType(hdlrPayload)
	if err != nil {
		return nil, nil, err
	}
	switch handler {
	case "vide":
		desc.Kind = media.KindVideo
	case "soun":
		desc.Kind = media.KindAudio
	default:
		desc.Kind = media.KindData
	}

	minf := findChild(*mdia, "minf")
	if minf == nil {
		return nil, nil, fmt.Errorf("missing minf")
	}
	stbl := findChild(*minf, "stbl")
	if stbl == nil {
		return nil, nil, fmt.Errorf("missing stbl")
	}

	if stsd := findChild(*stbl, "stsd"); stsd != nil {
		payload, err := readPayload(r.file, *stsd)
		if err != nil {
			return nil, nil, err
		}
		desc.CodecParameters = payload
		// stsd payload: version/flags(4) + entry_count(4) + first entry
		// size(4), then the four-character sample entry tag.
		if len(payload) >= 16 {
			desc.CodecTag = string(payload[12:16])
		}
	}
	if len(desc.CodecParameters) == 0 {
		return nil, nil, fmt.Errorf("missing stsd")
	}

	samples, err := r.mapSamples(*stbl)
	if err != nil {
		return nil, nil, fmt.Errorf("map samples: %w", err)
	}
	return desc, samples, nil
}

// mapSamples flattens the stbl tables into per-sample offsets, sizes,
// timestamps and keyframe flags.
func (r *Reader) mapSamples(stbl Atom) ([]sample, error) {
	sttsAtom := findChild(stbl, "stts")
	stszAtom := findChild(stbl, "stsz")
	stscAtom := findChild(stbl, "stsc")
	stcoAtom := findChild(stbl, "stco")
	co64Atom := findChild(stbl, "co64")
	if sttsAtom == nil || stszAtom == nil || stscAtom == nil || (stcoAtom == nil && co64Atom == nil) {
		return nil, fmt.Errorf("missing sample table atoms")
	}

	payload, err := readPayload(r.file, *sttsAtom)
	if err != nil {
		return nil, err
	}
	stts, err := parseStts(payload)
	if err != nil {
		return nil, err
	}

	if payload, err = readPayload(r.file, *stszAtom); err != nil {
		return nil, err
	}
	fixedSize, sizes, err := parseStsz(payload)
	if err != nil {
		return nil, err
	}

	if payload, err = readPayload(r.file, *stscAtom); err != nil {
		return nil, err
	}
	stsc, err := parseStsc(payload)
	if err != nil {
		return nil, err
	}

	var chunks []uint64
	if co64Atom != nil {
		if payload, err = readPayload(r.file, *co64Atom); err != nil {
			return nil, err
		}
		chunks, err = parseCo64(payload)
	} else {
		if payload, err = readPayload(r.file, *stcoAtom); err != nil {
			return nil, err
		}
		chunks, err = parseStco(payload)
	}
	if err != nil {
		return nil, err
	}

	// A missing stss means every sample is a sync sample. A present but
	// empty one means none is.
	syncTable := false
	sync := make(map[int]bool)
	if stssAtom := findChild(stbl, "stss"); stssAtom != nil {
		if payload, err = readPayload(r.file, *stssAtom); err != nil {
			return nil, err
		}
		nums, err := parseStss(payload)
		if err != nil {
			return nil, err
		}
		syncTable = true
		for _, n := range nums {
			sync[int(n)] = true
		}
	}

	var ctsOffsets []int32
	if cttsAtom := findChild(stbl, "ctts"); cttsAtom != nil {
		if payload, err = readPayload(r.file, *cttsAtom); err != nil {
			return nil, err
		}
		entries, err := parseCtts(payload)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			for i := uint32(0); i < e.Count; i++ {
				ctsOffsets = append(ctsOffsets, e.Offset)
			}
		}
	}

	count := 0
	if fixedSize != 0 {
		for _, e := range stts {
			count += int(e.Count)
		}
	} else {
		count = len(sizes)
	}

	samples := make([]sample, count)

	// Decode times from stts runs.
	idx, dts := 0, int64(0)
	for _, e := range stts {
		for i := uint32(0); i < e.Count && idx < count; i++ {
			samples[idx].dts = dts
			samples[idx].duration = int64(e.Duration)
			dts += int64(e.Duration)
			idx++
		}
	}

	for i := range samples {
		if fixedSize != 0 {
			samples[i].size = int64(fixedSize)
		} else {
			samples[i].size = int64(sizes[i])
		}
		samples[i].pts = samples[i].dts
		if i < len(ctsOffsets) {
			samples[i].pts += int64(ctsOffsets[i])
		}
		samples[i].keyframe = !syncTable || sync[i+1]
	}

	// Offsets: expand the stsc runs over the chunk offset table.
	idx = 0
	for c, chunkOffset := range chunks {
		chunkNum := uint32(c + 1)
		perChunk := uint32(0)
		for _, e := range stsc {
			if chunkNum >= e.FirstChunk {
				perChunk = e.SamplesPerChunk
			} else {
				break
			}
		}
		offset := int64(chunkOffset)
		for i := uint32(0); i < perChunk && idx < count; i++ {
			samples[idx].offset = offset
			offset += samples[idx].size
			idx++
		}
	}
	if idx != count {
		return nil, fmt.Errorf("chunk tables cover %d of %d samples", idx, count)
	}

	return samples, nil
}

// Streams returns the stream descriptors in source order.
func (r *Reader) Streams() []media.StreamDescriptor {
	out := make([]media.StreamDescriptor, len(r.streams))
	copy(out, r.streams)
	return out
}

// Duration returns the movie-level duration in seconds, false when the
// header does not record one.
func (r *Reader) Duration() (float64, bool) {
	if r.movieTimescale == 0 || r.movieDuration == 0 {
		return 0, false
	}
	return float64(r.movieDuration) / float64(r.movieTimescale), true
}

// ReadPacket returns the next packet in storage order, io.EOF at the end.
func (r *Reader) ReadPacket() (*media.Packet, error) {
	if r.cursor >= len(r.packets) {
		return nil, io.EOF
	}
	ref := r.packets[r.cursor]
	r.cursor++

	data := make([]byte, ref.size)
	if _, err := r.file.Seek(ref.offset, io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r.file, data); err != nil {
		return nil, fmt.Errorf("read packet at offset %d: %w", ref.offset, err)
	}

	return &media.Packet{
		StreamIndex: ref.stream,
		PTS:         ref.pts,
		DTS:         ref.dts,
		Duration:    ref.duration,
		Keyframe:    ref.keyframe,
		Pos:         ref.offset,
		Data:        data,
	}, nil
}

// globalTime converts a packet's presentation timestamp to GlobalTimeBase
// units.
func (r *Reader) globalTime(ref packetRef) int64 {
	return media.Rescale(ref.pts, r.streams[ref.stream].TimeBase, media.GlobalTimeBase)
}

// firstVideoStream returns the index of the first video stream, -1 if none.
func (r *Reader) firstVideoStream() int {
	for _, s := range r.streams {
		if s.Kind == media.KindVideo {
			return s.Index
		}
	}
	return -1
}

// Seek repositions the packet cursor. Backward mode lands on the latest
// video keyframe at or before the target, or at the start of the file when
// there is no such keyframe or no video stream at all. Exact mode requires a
// video keyframe at precisely the target timestamp.
func (r *Reader) Seek(target int64, mode media.SeekMode) error {
	video := r.firstVideoStream()

	switch mode {
	case media.SeekExact:
		if video < 0 {
			return fmt.Errorf("exact seek: no video stream")
		}
		for i, ref := range r.packets {
			if ref.stream == video && ref.keyframe && r.globalTime(ref) == target {
				r.cursor = i
				return nil
			}
		}
		return fmt.Errorf("exact seek: no video keyframe at %d", target)

	default:
		best := -1
		if video >= 0 {
			for i, ref := range r.packets {
				if ref.stream != video || !ref.keyframe {
					continue
				}
				if r.globalTime(ref) <= target {
					best = i
				}
			}
		}
		if best < 0 {
			best = 0
		}
		r.cursor = best
		return nil
	}
}

// Close releases the file handle. Safe to call more than once.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
