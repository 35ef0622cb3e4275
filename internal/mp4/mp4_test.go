package mp4

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replaytrim/internal/media"
)

// stsdPayload builds a minimal sample description payload with a single
// entry carrying the given four-character tag.
func stsdPayload(tag string) []byte {
	payload := make([]byte, 0, 24)
	payload = append(payload, 0, 0, 0, 0) // version/flags
	payload = append(payload, 0, 0, 0, 1) // entry count
	payload = append(payload, 0, 0, 0, 16)
	payload = append(payload, tag...)
	payload = append(payload, 0, 0, 0, 0, 0, 0, 0, 0)
	return payload
}

func testStreams() []media.StreamDescriptor {
	return []media.StreamDescriptor{
		{
			Index:           0,
			Kind:            media.KindVideo,
			TimeBase:        media.Rational{Num: 1, Den: 1000},
			CodecParameters: stsdPayload("avc1"),
			Default:         true,
			Width:           1920,
			Height:          1080,
		},
		{
			Index:           1,
			Kind:            media.KindAudio,
			TimeBase:        media.Rational{Num: 1, Den: 48000},
			CodecParameters: stsdPayload("mp4a"),
			Volume:          0x0100,
		},
	}
}

// writeTestFile muxes ten seconds of interleaved video and audio, one packet
// per second each, video keyframes on even seconds.
func writeTestFile(t *testing.T, path string) {
	t.Helper()

	w, err := NewWriter(path, testStreams())
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader())

	for i := 0; i < 10; i++ {
		require.NoError(t, w.WritePacket(&media.Packet{
			StreamIndex: 0,
			PTS:         int64(i * 1000),
			DTS:         int64(i * 1000),
			Duration:    1000,
			Keyframe:    i%2 == 0,
			Data:        []byte{byte(i), 'v'},
		}))
		require.NoError(t, w.WritePacket(&media.Packet{
			StreamIndex: 1,
			PTS:         int64(i * 48000),
			DTS:         int64(i * 48000),
			Duration:    48000,
			Keyframe:    true,
			Data:        []byte{byte(i), 'a'},
		}))
	}

	require.NoError(t, w.WriteTrailer())
	require.NoError(t, w.Close())
}

func TestWriterReaderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roundtrip.mp4")
	writeTestFile(t, path)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	t.Run("streams", func(t *testing.T) {
		streams := r.Streams()
		require.Len(t, streams, 2)

		assert.Equal(t, media.KindVideo, streams[0].Kind)
		assert.Equal(t, media.Rational{Num: 1, Den: 1000}, streams[0].TimeBase)
		assert.Equal(t, "avc1", streams[0].CodecTag)
		assert.True(t, streams[0].Default)
		assert.Equal(t, uint32(1920), streams[0].Width)
		assert.Equal(t, uint32(1080), streams[0].Height)

		assert.Equal(t, media.KindAudio, streams[1].Kind)
		assert.Equal(t, media.Rational{Num: 1, Den: 48000}, streams[1].TimeBase)
		assert.Equal(t, "mp4a", streams[1].CodecTag)
		assert.Equal(t, uint16(0x0100), streams[1].Volume)
		assert.False(t, streams[1].Default)
	})

	t.Run("duration", func(t *testing.T) {
		dur, ok := r.Duration()
		require.True(t, ok)
		assert.InDelta(t, 10.0, dur, 0.01)
	})

	t.Run("packets in storage order", func(t *testing.T) {
		var count int
		var lastPos int64 = -1
		for {
			pkt, err := r.ReadPacket()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			assert.Greater(t, pkt.Pos, lastPos)
			lastPos = pkt.Pos

			if pkt.StreamIndex == 0 {
				second := pkt.PTS / 1000
				assert.Equal(t, second%2 == 0, pkt.Keyframe)
				assert.Equal(t, []byte{byte(second), 'v'}, pkt.Data)
				assert.Equal(t, int64(1000), pkt.Duration)
			} else {
				assert.True(t, pkt.Keyframe)
			}
			count++
		}
		assert.Equal(t, 20, count)
	})
}

func TestReaderSeek(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seek.mp4")
	writeTestFile(t, path)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	toGlobal := func(sec int64) int64 {
		return media.Rescale(sec*1000, media.Rational{Num: 1, Den: 1000}, media.GlobalTimeBase)
	}

	t.Run("backward lands on preceding keyframe", func(t *testing.T) {
		// 5s sits between the keyframes at 4s and 6s.
		require.NoError(t, r.Seek(toGlobal(5), media.SeekBackward))
		pkt, err := r.ReadPacket()
		require.NoError(t, err)
		assert.Equal(t, 0, pkt.StreamIndex)
		assert.Equal(t, int64(4000), pkt.PTS)
		assert.True(t, pkt.Keyframe)
	})

	t.Run("backward before first keyframe rewinds to start", func(t *testing.T) {
		require.NoError(t, r.Seek(-1, media.SeekBackward))
		pkt, err := r.ReadPacket()
		require.NoError(t, err)
		assert.Equal(t, int64(0), pkt.PTS)
	})

	t.Run("exact hits keyframe timestamp", func(t *testing.T) {
		require.NoError(t, r.Seek(toGlobal(6), media.SeekExact))
		pkt, err := r.ReadPacket()
		require.NoError(t, err)
		assert.Equal(t, int64(6000), pkt.PTS)
		assert.True(t, pkt.Keyframe)
	})

	t.Run("exact fails between keyframes", func(t *testing.T) {
		assert.Error(t, r.Seek(toGlobal(5), media.SeekExact))
	})
}

func TestCompositionOffsetsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctts.mp4")

	streams := testStreams()[:1]
	w, err := NewWriter(path, streams)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader())

	// B-frame style reordering: pts leads dts on two samples.
	offsets := []int64{0, 500, 500, 0}
	for i, off := range offsets {
		require.NoError(t, w.WritePacket(&media.Packet{
			StreamIndex: 0,
			PTS:         int64(i*1000) + off,
			DTS:         int64(i * 1000),
			Duration:    1000,
			Keyframe:    i == 0,
			Data:        []byte{byte(i)},
		}))
	}
	require.NoError(t, w.WriteTrailer())
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	for i, off := range offsets {
		pkt, err := r.ReadPacket()
		require.NoError(t, err)
		assert.Equal(t, int64(i*1000), pkt.DTS)
		assert.Equal(t, int64(i*1000)+off, pkt.PTS)
	}
}

func TestProbeAtomTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probe.mp4")
	writeTestFile(t, path)

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	atoms, err := Probe(file)
	require.NoError(t, err)

	require.Len(t, atoms, 3)
	assert.Equal(t, "ftyp", atoms[0].Type)
	assert.Equal(t, "mdat", atoms[1].Type)
	assert.Equal(t, "moov", atoms[2].Type)

	moov := findAtom(atoms, "moov")
	require.NotNil(t, moov)
	assert.NotNil(t, findChild(*moov, "mvhd"))

	var traks int
	for _, c := range moov.Children {
		if c.Type == "trak" {
			traks++
		}
	}
	assert.Equal(t, 2, traks)
}

func TestWriterValidation(t *testing.T) {
	dir := t.TempDir()

	t.Run("no streams", func(t *testing.T) {
		_, err := NewWriter(filepath.Join(dir, "a.mp4"), nil)
		assert.Error(t, err)
	})

	t.Run("out of order indices", func(t *testing.T) {
		streams := testStreams()
		streams[0].Index = 1
		streams[1].Index = 0
		_, err := NewWriter(filepath.Join(dir, "b.mp4"), streams)
		assert.Error(t, err)
	})

	t.Run("invalid time base", func(t *testing.T) {
		streams := testStreams()
		streams[0].TimeBase = media.Rational{Num: 1001, Den: 30000}
		_, err := NewWriter(filepath.Join(dir, "c.mp4"), streams)
		assert.Error(t, err)
	})

	t.Run("missing codec parameters", func(t *testing.T) {
		streams := testStreams()
		streams[1].CodecParameters = nil
		_, err := NewWriter(filepath.Join(dir, "d.mp4"), streams)
		assert.Error(t, err)
	})
}

func TestWriterStateErrors(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(filepath.Join(dir, "state.mp4"), testStreams())
	require.NoError(t, err)
	defer w.Close()

	pkt := &media.Packet{StreamIndex: 0, PTS: 0, DTS: 0, Duration: 1000, Data: []byte{1}}
	assert.Error(t, w.WritePacket(pkt), "packet before header")
	assert.Error(t, w.WriteTrailer(), "trailer before header")

	require.NoError(t, w.WriteHeader())
	assert.Error(t, w.WriteHeader(), "double header")

	assert.Error(t, w.WritePacket(&media.Packet{
		StreamIndex: 0, PTS: media.NoTimestamp, DTS: media.NoTimestamp, Data: []byte{1},
	}), "packet without timestamps")

	assert.Error(t, w.WritePacket(&media.Packet{StreamIndex: 5, PTS: 0, DTS: 0, Data: []byte{1}}),
		"unknown stream")

	require.NoError(t, w.WritePacket(pkt))
	require.NoError(t, w.WriteTrailer())
	assert.Error(t, w.WriteTrailer(), "double trailer")
	assert.Error(t, w.WritePacket(pkt), "packet after trailer")
}

func TestOpenRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.bin")
	require.NoError(t, os.WriteFile(path, []byte("this is not an mp4 file at all"), 0o644))

	_, err := Open(path)
	assert.Error(t, err)
}

func TestReaderCloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "close.mp4")
	writeTestFile(t, path)

	r, err := Open(path)
	require.NoError(t, err)
	assert.NoError(t, r.Close())
	assert.NoError(t, r.Close())
}
