// Package trim implements the replay trimming engine: given a recorded
// container file, produce a new container holding only the last N seconds,
// stream-copied without re-encoding, cut at a video keyframe so the output is
// decodable from its first frame.
package trim

import (
	"fmt"
	"io"
	"os"

	"replaytrim/internal/logger"
	"replaytrim/internal/media"
	"replaytrim/internal/mp4"
)

// OpenDemuxerFunc opens a container for reading.
type OpenDemuxerFunc func(path string) (media.Demuxer, error)

// CreateMuxerFunc creates an output container with the given streams.
type CreateMuxerFunc func(path string, streams []media.StreamDescriptor) (media.Muxer, error)

// Trimmer performs trim operations. A Trimmer is stateless between calls and
// safe for concurrent use on distinct input/output pairs; callers must
// serialize operations racing on the same paths.
type Trimmer struct {
	log         logger.Logger
	openDemuxer OpenDemuxerFunc
	createMuxer CreateMuxerFunc
}

// New returns a Trimmer backed by the MP4 container implementation.
func New(log logger.Logger) *Trimmer {
	return NewWithBackend(log,
		func(path string) (media.Demuxer, error) { return mp4.Open(path) },
		func(path string, streams []media.StreamDescriptor) (media.Muxer, error) {
			return mp4.NewWriter(path, streams)
		},
	)
}

// NewWithBackend returns a Trimmer with an explicit container backend. Tests
// use this to inject failing demuxers and muxers.
func NewWithBackend(log logger.Logger, open OpenDemuxerFunc, create CreateMuxerFunc) *Trimmer {
	return &Trimmer{log: log, openDemuxer: open, createMuxer: create}
}

// ProbeDuration determines the total playable duration of the container at
// path, in seconds. It opens and closes its own handle.
func (t *Trimmer) ProbeDuration(path string) (float64, error) {
	d, err := t.openDemuxer(path)
	if err != nil {
		return 0, err
	}
	defer d.Close()
	return durationOf(d)
}

// durationOf prefers the container-level duration and falls back to the
// longest individual stream.
func durationOf(d media.Demuxer) (float64, error) {
	if dur, ok := d.Duration(); ok && dur > 0 {
		return dur, nil
	}
	var longest float64
	for _, s := range d.Streams() {
		if s.Duration > 0 && s.TimeBase.Valid() {
			if sec := float64(s.Duration) * s.TimeBase.Float(); sec > longest {
				longest = sec
			}
		}
	}
	if longest <= 0 {
		return 0, fmt.Errorf("container duration indeterminate")
	}
	return longest, nil
}

// TrimToLastSeconds writes the last durationSeconds of inputPath to
// outputPath without re-encoding. It returns true only when a complete,
// trailer-finalized output file was produced. The source file is never
// modified, deleted or renamed; replacing it is the caller's job. All
// internal errors are logged, and nothing propagates past this boundary.
func (t *Trimmer) TrimToLastSeconds(inputPath, outputPath string, durationSeconds int) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Errorf("panic while trimming %s: %v", inputPath, r)
			ok = false
		}
	}()

	t.log.Infof("starting trim: %s -> %s (%d seconds)", inputPath, outputPath, durationSeconds)
	if err := t.trim(inputPath, outputPath, durationSeconds); err != nil {
		t.log.Errorf("trim failed for %s: %v", inputPath, err)
		return false
	}
	t.log.Infof("trimmed %s to last %d seconds", inputPath, durationSeconds)
	return true
}

func (t *Trimmer) trim(inputPath, outputPath string, durationSeconds int) error {
	if durationSeconds <= 0 {
		return fmt.Errorf("duration must be positive, got %d", durationSeconds)
	}

	in, err := t.openDemuxer(inputPath)
	if err != nil {
		return err
	}
	defer in.Close()

	total, err := durationOf(in)
	if err != nil {
		return err
	}
	t.log.Infof("input duration: %.2f seconds", total)

	// Requesting more than the file holds keeps the whole file.
	start := total - float64(durationSeconds)
	if start < 0 {
		start = 0
	}
	t.log.Infof("trimming from %.2f seconds to end (%.2f seconds total)", start, total-start)

	streams := in.Streams()
	cutoff := t.resolveKeyframe(in, streams, start)

	outStreams := make([]media.StreamDescriptor, len(streams))
	for i, s := range streams {
		outStreams[i] = s.Clone()
	}

	out, err := t.createMuxer(outputPath, outStreams)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	success := false
	defer func() {
		out.Close()
		if !success {
			// A failed copy must not leave a partial file that could
			// be mistaken for a valid one. The source is untouched.
			os.Remove(outputPath)
		}
	}()

	if err := out.WriteHeader(); err != nil {
		return err
	}
	if err := t.copyPackets(in, out, streams, outStreams, cutoff); err != nil {
		return err
	}
	if err := out.WriteTrailer(); err != nil {
		return err
	}
	success = true
	return nil
}

// resolveKeyframe positions the demuxer for the copy loop and returns the
// cut point in GlobalTimeBase units. Timestamp comparisons stay in integer
// ticks throughout so packets exactly on the boundary are never lost to
// floating point noise.
//
// A coarse backward seek can land well before the nearest keyframe, so the
// packets from the landing point are scanned forward: every video keyframe at
// or before the target start is recorded, and the scan stops on the first
// video packet past the target. The last recorded keyframe is the cut point,
// reached again with a precise seek. Without any keyframe the raw start time
// is kept, which may leave a brief undecodable lead-in.
func (t *Trimmer) resolveKeyframe(in media.Demuxer, streams []media.StreamDescriptor, start float64) int64 {
	seekTarget := media.RescaleSeconds(start, media.GlobalTimeBase)
	if err := in.Seek(seekTarget, media.SeekBackward); err != nil {
		// The copy may still work from wherever the demuxer sits.
		t.log.Warnf("seek to start time %.2f failed: %v", start, err)
	}

	videoIndex := -1
	for _, s := range streams {
		if s.Kind == media.KindVideo {
			videoIndex = s.Index
			break
		}
	}
	if videoIndex < 0 {
		// Audio-only capture: cut every stream at the raw target time.
		return seekTarget
	}

	tb := streams[videoIndex].TimeBase
	best := media.NoTimestamp
	for {
		pkt, err := in.ReadPacket()
		if err != nil {
			break
		}
		if pkt.StreamIndex != videoIndex {
			continue
		}
		ts := pkt.PTS
		if ts == media.NoTimestamp {
			ts = pkt.DTS
		}
		if ts == media.NoTimestamp {
			continue
		}
		if media.Rescale(ts, tb, media.GlobalTimeBase) > seekTarget {
			break
		}
		if pkt.Keyframe {
			best = ts
		}
	}

	if best == media.NoTimestamp {
		t.log.Warnf("no keyframe found before %.2f, output may not decode cleanly at the start", start)
		if err := in.Seek(seekTarget, media.SeekBackward); err != nil {
			t.log.Warnf("re-seek to start time failed: %v", err)
		}
		return seekTarget
	}

	target := media.Rescale(best, tb, media.GlobalTimeBase)
	if err := in.Seek(target, media.SeekExact); err != nil {
		t.log.Warnf("exact seek to keyframe failed (%v), retrying backward", err)
		if err := in.Seek(target, media.SeekBackward); err != nil {
			t.log.Warnf("backward seek to keyframe failed: %v", err)
		}
	}
	t.log.Infof("cut point at keyframe %.2f (requested %.2f)",
		float64(target)/float64(media.GlobalTimeBase.Den), start)
	return target
}

// copyPackets streams every packet at or after the cutoff into the muxer,
// rebasing timestamps into the destination time base and zeroing each
// stream's timeline independently. The cutoff is in GlobalTimeBase units.
func (t *Trimmer) copyPackets(in media.Demuxer, out media.Muxer, streams, outStreams []media.StreamDescriptor, cutoff int64) error {
	// Stream indices are small and dense, so a flat slice keyed by index
	// holds the per-stream pts offsets.
	offsets := make([]int64, len(streams))
	for i := range offsets {
		offsets[i] = media.NoTimestamp
	}

	for {
		pkt, err := in.ReadPacket()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read packet: %w", err)
		}
		if pkt.StreamIndex < 0 || pkt.StreamIndex >= len(streams) {
			return fmt.Errorf("packet for unknown stream %d", pkt.StreamIndex)
		}

		inTB := streams[pkt.StreamIndex].TimeBase
		outTB := outStreams[pkt.StreamIndex].TimeBase

		// Every stream is trimmed at the same wall-clock boundary, not
		// just the video stream that defined it. Packets without any
		// timestamp cannot be placed and are dropped with the lead-in.
		ref := pkt.PTS
		if ref == media.NoTimestamp {
			ref = pkt.DTS
		}
		if ref == media.NoTimestamp || media.Rescale(ref, inTB, media.GlobalTimeBase) < cutoff {
			continue
		}

		if offsets[pkt.StreamIndex] == media.NoTimestamp {
			offsets[pkt.StreamIndex] = media.Rescale(ref, inTB, outTB)
		}

		pkt.PTS = media.Rescale(pkt.PTS, inTB, outTB)
		pkt.DTS = media.Rescale(pkt.DTS, inTB, outTB)
		if off := offsets[pkt.StreamIndex]; off != media.NoTimestamp {
			if pkt.PTS != media.NoTimestamp {
				pkt.PTS -= off
			}
			if pkt.DTS != media.NoTimestamp {
				pkt.DTS -= off
			}
		}
		// Durations are rescaled but never offset.
		if pkt.Duration > 0 {
			pkt.Duration = media.Rescale(pkt.Duration, inTB, outTB)
		}
		pkt.Pos = -1

		if err := out.WritePacket(pkt); err != nil {
			return fmt.Errorf("write packet: %w", err)
		}
	}
}
