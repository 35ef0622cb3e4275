package mp4

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"replaytrim/internal/media"
)

const (
	ftypSize = 24
	// mdat header follows ftyp; its 32-bit size field is backpatched at
	// trailer time.
	mdatOffset = int64(ftypSize)
	dataOffset = mdatOffset + 8
)

type outSample struct {
	offset   int64
	size     int64
	dts      int64
	cts      int64
	duration int64
	keyframe bool
}

type outTrack struct {
	desc    media.StreamDescriptor
	samples []outSample
}

// Writer muxes a progressive MP4 file: ftyp, then a streamed mdat, then the
// moov written at trailer time. It implements media.Muxer. One sample per
// chunk keeps the chunk tables trivial.
type Writer struct {
	file   *os.File
	path   string
	tracks []*outTrack
	offset int64

	headerWritten  bool
	trailerWritten bool
}

// NewWriter creates the output file with one output track per descriptor.
// Descriptors must be dense and in index order; every stream needs a 1/N
// time base and non-empty codec parameters.
func NewWriter(path string, streams []media.StreamDescriptor) (*Writer, error) {
	if len(streams) == 0 {
		return nil, fmt.Errorf("no streams")
	}
	tracks := make([]*outTrack, len(streams))
	for i, s := range streams {
		if s.Index != i {
			return nil, fmt.Errorf("stream %d has index %d, descriptors must stay in source order", i, s.Index)
		}
		if !s.TimeBase.Valid() || s.TimeBase.Num != 1 {
			return nil, fmt.Errorf("stream %d: unsupported time base %d/%d", i, s.TimeBase.Num, s.TimeBase.Den)
		}
		if len(s.CodecParameters) == 0 {
			return nil, fmt.Errorf("stream %d: missing codec parameters", i)
		}
		tracks[i] = &outTrack{desc: s}
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &Writer{file: file, path: path, tracks: tracks}, nil
}

// WriteHeader writes the ftyp box and opens the mdat box.
func (w *Writer) WriteHeader() error {
	if w.headerWritten {
		return fmt.Errorf("header already written")
	}

	var buf bytes.Buffer
	bu32(&buf, ftypSize)
	btag(&buf, "ftyp")
	btag(&buf, "isom")
	bu32(&buf, 512)
	btag(&buf, "isom")
	btag(&buf, "mp41")

	// mdat with a placeholder size.
	bu32(&buf, 0)
	btag(&buf, "mdat")

	if _, err := w.file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	w.offset = dataOffset
	w.headerWritten = true
	return nil
}

// WritePacket appends the packet payload to the mdat box and records its
// sample table entry. Timestamps must already be in the output stream's time
// base.
func (w *Writer) WritePacket(pkt *media.Packet) error {
	if !w.headerWritten {
		return fmt.Errorf("write packet before header")
	}
	if w.trailerWritten {
		return fmt.Errorf("write packet after trailer")
	}
	if pkt.StreamIndex < 0 || pkt.StreamIndex >= len(w.tracks) {
		return fmt.Errorf("packet for unknown stream %d", pkt.StreamIndex)
	}

	dts := pkt.DTS
	if dts == media.NoTimestamp {
		dts = pkt.PTS
	}
	if dts == media.NoTimestamp {
		return fmt.Errorf("packet for stream %d has no timestamp", pkt.StreamIndex)
	}
	cts := int64(0)
	if pkt.PTS != media.NoTimestamp {
		cts = pkt.PTS - dts
	}

	if _, err := w.file.Write(pkt.Data); err != nil {
		return fmt.Errorf("write packet data: %w", err)
	}

	track := w.tracks[pkt.StreamIndex]
	track.samples = append(track.samples, outSample{
		offset:   w.offset,
		size:     int64(len(pkt.Data)),
		dts:      dts,
		cts:      cts,
		duration: pkt.Duration,
		keyframe: pkt.Keyframe,
	})
	w.offset += int64(len(pkt.Data))
	return nil
}

// WriteTrailer backpatches the mdat size and appends the moov box.
func (w *Writer) WriteTrailer() error {
	if !w.headerWritten {
		return fmt.Errorf("write trailer before header")
	}
	if w.trailerWritten {
		return fmt.Errorf("trailer already written")
	}

	mdatSize := w.offset - mdatOffset
	if mdatSize > 0xFFFFFFFF {
		return fmt.Errorf("mdat size %d exceeds 32-bit chunk offsets", mdatSize)
	}
	var sizeField [4]byte
	binary.BigEndian.PutUint32(sizeField[:], uint32(mdatSize))
	if _, err := w.file.WriteAt(sizeField[:], mdatOffset); err != nil {
		return fmt.Errorf("patch mdat size: %w", err)
	}

	moov, err := w.buildMoov()
	if err != nil {
		return err
	}
	if _, err := w.file.Write(moov.marshal()); err != nil {
		return fmt.Errorf("write moov: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync output: %w", err)
	}
	w.trailerWritten = true
	return nil
}

// Close releases the file handle. Safe to call more than once.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

const movieTimescale = 1000

func (w *Writer) buildMoov() (*box, error) {
	var maxDuration int64
	var traks []*box

	for i, track := range w.tracks {
		dur := track.totalDuration()
		scaled := media.Rescale(dur, track.desc.TimeBase, media.Rational{Num: 1, Den: movieTimescale})
		if scaled > maxDuration {
			maxDuration = scaled
		}
		trak, err := buildTrak(track, i+1)
		if err != nil {
			return nil, fmt.Errorf("stream %d: %w", i, err)
		}
		traks = append(traks, trak)
	}

	var mvhd bytes.Buffer
	bu32(&mvhd, 0) // version/flags
	bu32(&mvhd, 0) // creation time
	bu32(&mvhd, 0) // modification time
	bu32(&mvhd, movieTimescale)
	bu32(&mvhd, uint32(maxDuration))
	bu32(&mvhd, 0x00010000) // rate
	bu16(&mvhd, 0x0100)     // volume
	mvhd.Write(make([]byte, 10))
	mvhd.Write(unityMatrix)
	mvhd.Write(make([]byte, 24))
	bu32(&mvhd, uint32(len(w.tracks)+1)) // next track ID

	children := []*box{{typ: "mvhd", data: mvhd.Bytes()}}
	children = append(children, traks...)
	return &box{typ: "moov", children: children}, nil
}

func (t *outTrack) totalDuration() int64 {
	var total int64
	for _, s := range t.samples {
		total += s.duration
	}
	return total
}

func buildTrak(t *outTrack, trackID int) (*box, error) {
	stbl, err := buildStbl(t)
	if err != nil {
		return nil, err
	}

	var mediaHeader *box
	var handler string
	var handlerName string
	switch t.desc.Kind {
	case media.KindVideo:
		mediaHeader = &box{typ: "vmhd", data: []byte{0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0}}
		handler, handlerName = "vide", "VideoHandler"
	case media.KindAudio:
		mediaHeader = &box{typ: "smhd", data: make([]byte, 8)}
		handler, handlerName = "soun", "SoundHandler"
	default:
		mediaHeader = &box{typ: "nmhd", data: make([]byte, 4)}
		handler, handlerName = "meta", "DataHandler"
	}

	var hdlr bytes.Buffer
	bu32(&hdlr, 0) // version/flags
	bu32(&hdlr, 0) // pre_defined
	btag(&hdlr, handler)
	hdlr.Write(make([]byte, 12))
	hdlr.WriteString(handlerName)
	hdlr.WriteByte(0)

	dinf := &box{typ: "dinf", children: []*box{{typ: "dref", data: []byte{
		0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 12, 'u', 'r', 'l', ' ', 0, 0, 0, 1,
	}}}}

	minf := &box{typ: "minf", children: []*box{mediaHeader, dinf, stbl}}

	duration := t.totalDuration()

	var mdhd bytes.Buffer
	bu32(&mdhd, 0) // version/flags
	bu32(&mdhd, 0)
	bu32(&mdhd, 0)
	bu32(&mdhd, uint32(t.desc.TimeBase.Den))
	bu32(&mdhd, uint32(duration))
	bu16(&mdhd, 0x55c4) // und
	bu16(&mdhd, 0)

	mdia := &box{typ: "mdia", children: []*box{
		{typ: "mdhd", data: mdhd.Bytes()},
		{typ: "hdlr", data: hdlr.Bytes()},
		minf,
	}}

	// The track-enabled flag doubles as the default-track disposition.
	flags := uint32(0x2)
	if t.desc.Default {
		flags |= 0x1
	}

	var tkhd bytes.Buffer
	bu32(&tkhd, flags)
	bu32(&tkhd, 0) // creation time
	bu32(&tkhd, 0) // modification time
	bu32(&tkhd, uint32(trackID))
	bu32(&tkhd, 0) // reserved
	bu32(&tkhd, uint32(media.Rescale(duration, t.desc.TimeBase, media.Rational{Num: 1, Den: movieTimescale})))
	bu32(&tkhd, 0)
	bu32(&tkhd, 0)
	bu16(&tkhd, 0) // layer
	bu16(&tkhd, 0) // alternate group
	bu16(&tkhd, t.desc.Volume)
	bu16(&tkhd, 0)
	tkhd.Write(unityMatrix)
	bu32(&tkhd, t.desc.Width<<16)
	bu32(&tkhd, t.desc.Height<<16)

	return &box{typ: "trak", children: []*box{
		{typ: "tkhd", data: tkhd.Bytes()},
		mdia,
	}}, nil
}

func buildStbl(t *outTrack) (*box, error) {
	samples := t.samples

	// stts: run-length encoded durations.
	var stts bytes.Buffer
	bu32(&stts, 0)
	runs := 0
	sttsBody := &bytes.Buffer{}
	for i := 0; i < len(samples); {
		j := i
		for j < len(samples) && samples[j].duration == samples[i].duration {
			j++
		}
		bu32(sttsBody, uint32(j-i))
		bu32(sttsBody, uint32(samples[i].duration))
		runs++
		i = j
	}
	bu32(&stts, uint32(runs))
	stts.Write(sttsBody.Bytes())

	// ctts only when composition offsets exist; version 1, signed.
	var ctts *box
	hasCts := false
	for _, s := range samples {
		if s.cts != 0 {
			hasCts = true
			break
		}
	}
	if hasCts {
		var buf bytes.Buffer
		bu32(&buf, 0x01000000)
		body := &bytes.Buffer{}
		runs := 0
		for i := 0; i < len(samples); {
			j := i
			for j < len(samples) && samples[j].cts == samples[i].cts {
				j++
			}
			bu32(body, uint32(j-i))
			bu32(body, uint32(int32(samples[i].cts)))
			runs++
			i = j
		}
		bu32(&buf, uint32(runs))
		buf.Write(body.Bytes())
		ctts = &box{typ: "ctts", data: buf.Bytes()}
	}

	// stss for video tracks unless every sample is a sync sample.
	var stss *box
	if t.desc.Kind == media.KindVideo {
		var keys []int
		for i, s := range samples {
			if s.keyframe {
				keys = append(keys, i+1)
			}
		}
		if len(keys) != len(samples) {
			var buf bytes.Buffer
			bu32(&buf, 0)
			bu32(&buf, uint32(len(keys)))
			for _, k := range keys {
				bu32(&buf, uint32(k))
			}
			stss = &box{typ: "stss", data: buf.Bytes()}
		}
	}

	var stsz bytes.Buffer
	bu32(&stsz, 0)
	bu32(&stsz, 0) // no fixed size
	bu32(&stsz, uint32(len(samples)))
	for _, s := range samples {
		bu32(&stsz, uint32(s.size))
	}

	// One sample per chunk.
	var stsc bytes.Buffer
	bu32(&stsc, 0)
	bu32(&stsc, 1)
	bu32(&stsc, 1)
	bu32(&stsc, 1)
	bu32(&stsc, 1)

	var stco bytes.Buffer
	bu32(&stco, 0)
	bu32(&stco, uint32(len(samples)))
	for _, s := range samples {
		if s.offset > 0xFFFFFFFF {
			return nil, fmt.Errorf("sample offset %d exceeds 32-bit chunk offsets", s.offset)
		}
		bu32(&stco, uint32(s.offset))
	}

	children := []*box{
		{typ: "stsd", data: t.desc.CodecParameters},
		{typ: "stts", data: stts.Bytes()},
	}
	if ctts != nil {
		children = append(children, ctts)
	}
	if stss != nil {
		children = append(children, stss)
	}
	children = append(children,
		&box{typ: "stsc", data: stsc.Bytes()},
		&box{typ: "stsz", data: stsz.Bytes()},
		&box{typ: "stco", data: stco.Bytes()},
	)
	return &box{typ: "stbl", children: children}, nil
}

var unityMatrix = []byte{
	0, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 64, 0, 0, 0,
}

// box is a serializable MP4 atom under construction.
type box struct {
	typ      string
	data     []byte
	children []*box
}

func (b *box) marshal() []byte {
	var childBytes []byte
	for _, c := range b.children {
		childBytes = append(childBytes, c.marshal()...)
	}
	size := 8 + len(b.data) + len(childBytes)

	out := make([]byte, 8, size)
	binary.BigEndian.PutUint32(out[0:4], uint32(size))
	copy(out[4:8], b.typ)
	out = append(out, b.data...)
	out = append(out, childBytes...)
	return out
}

func bu32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func bu16(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

func btag(buf *bytes.Buffer, tag string) {
	buf.WriteString(tag)
}
