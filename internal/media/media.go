// Package media defines the container abstraction the trimming engine is
// written against: stream descriptors, compressed packets and the demuxer and
// muxer capability interfaces. Concrete container backends (see internal/mp4)
// implement these interfaces; the engine never touches a container format
// directly.
package media

import "math"

// NoTimestamp marks an absent pts or dts value.
const NoTimestamp = int64(math.MinInt64)

// Kind identifies the elementary stream type.
type Kind int

const (
	KindData Kind = iota
	KindVideo
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "data"
	}
}

// StreamDescriptor describes one elementary stream of a container, in source
// order. The Index correlates input and output streams 1:1 and must never be
// reordered.
type StreamDescriptor struct {
	Index    int
	Kind     Kind
	TimeBase Rational

	// CodecTag is the container-specific codec identifier. It is cleared
	// when a descriptor is cloned onto an output container, since tags are
	// not portable across container instances.
	CodecTag string

	// CodecParameters is an opaque blob carried verbatim from input to
	// output. Its contents are never inspected or altered here.
	CodecParameters []byte

	// Duration is the stream's own duration in TimeBase units, 0 if the
	// container did not record one.
	Duration int64

	// Default marks the stream as the default track of its kind.
	Default bool

	// Passthrough presentation hints.
	Width  uint32
	Height uint32
	Volume uint16
}

// Clone returns a copy of the descriptor suitable for an output container:
// same index, kind, time base, codec parameters and disposition, with the
// codec tag cleared.
func (d StreamDescriptor) Clone() StreamDescriptor {
	out := d
	out.CodecTag = ""
	out.CodecParameters = append([]byte(nil), d.CodecParameters...)
	return out
}

// Packet is a single compressed data unit belonging to one stream. Timestamps
// are in the owning stream's time base.
type Packet struct {
	StreamIndex int
	PTS         int64
	DTS         int64
	Duration    int64
	Keyframe    bool

	// Pos is the packet's byte position in its source file, -1 if unknown.
	// It is meaningless once the packet is written to a new file.
	Pos int64

	Data []byte
}

// TimeSeconds returns the packet's presentation time in seconds, preferring
// pts and falling back to dts. The second return is false when neither
// timestamp is set.
func (p *Packet) TimeSeconds(tb Rational) (float64, bool) {
	switch {
	case p.PTS != NoTimestamp:
		return float64(p.PTS) * tb.Float(), true
	case p.DTS != NoTimestamp:
		return float64(p.DTS) * tb.Float(), true
	default:
		return 0, false
	}
}

// SeekMode selects how a demuxer resolves a seek target.
type SeekMode int

const (
	// SeekBackward lands at or before the target, typically on a keyframe.
	// Container seek primitives are approximate; the landing point may be
	// well before the target.
	SeekBackward SeekMode = iota
	// SeekExact positions on the video packet whose timestamp equals the
	// target and fails if no such packet exists.
	SeekExact
)

// Demuxer reads streams and packets from an opened container.
type Demuxer interface {
	// Streams returns the stream descriptors in source order.
	Streams() []StreamDescriptor
	// Duration returns the container-level duration in seconds, false if
	// the container does not record one.
	Duration() (float64, bool)
	// ReadPacket returns the next packet in storage order, io.EOF at end.
	ReadPacket() (*Packet, error)
	// Seek repositions the packet cursor. The target is expressed in
	// GlobalTimeBase units.
	Seek(target int64, mode SeekMode) error
	Close() error
}

// Muxer writes a new container. WriteHeader must be called once before the
// first packet, WriteTrailer exactly once on the success path. Close releases
// the underlying file and is safe after either outcome.
type Muxer interface {
	WriteHeader() error
	WritePacket(*Packet) error
	WriteTrailer() error
	Close() error
}
