package recorder

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/pkg/formats/fmp4"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

// ErrWriterState is returned when a container writer call is made in the
// wrong lifecycle phase.
var ErrWriterState = errors.New("container writer in wrong state")

// ContainerWriter receives encoded samples for one output file. It mirrors
// the MediaMuxer lifecycle: tracks are added, the writer is started, samples
// are written, then the writer is stopped and released.
type ContainerWriter interface {
	// AddTrack registers a track from the encoder's output format and
	// returns its index. Only valid before Start.
	AddTrack(format MediaFormat) (int, error)

	Start() error

	// WriteSampleData copies data; the caller may reuse it on return.
	WriteSampleData(track int, data []byte, info BufferInfo) error

	// Stop finalizes the file.
	Stop() error

	// Release frees the writer. A writer released without a successful Stop
	// discards its output.
	Release() error
}

// WriterFactory opens a container writer for path.
type WriterFactory func(path string) (ContainerWriter, error)

// =============================================================================
// Fragmented MP4 writer
// =============================================================================

const (
	videoTimeScale = 90000

	// DefaultFragmentDuration is the minimum span of one MP4 fragment.
	DefaultFragmentDuration = time.Second

	aacSamplesPerFrame = 1024
)

// MP4Writer writes one fragmented MP4 file. Output goes to a pending file in
// the destination directory and only replaces path on a successful Stop, so
// an aborted session never leaves a truncated file behind.
type MP4Writer struct {
	path             string
	file             *renameio.PendingFile
	fragmentDuration time.Duration
	log              zerolog.Logger

	tracks   []*mp4Track
	sequence uint32

	started  bool
	stopped  bool
	released bool

	mu sync.Mutex
}

type mp4Track struct {
	init      *fmp4.InitTrack
	isVideo   bool
	frameRate int

	originUs  int64
	hasOrigin bool

	pending      *fmp4.PartSample
	pendingTime  uint64 // decode time of pending, in track timescale
	lastDuration uint32

	samples   []*fmp4.PartSample
	baseTime  uint64
	fragSpan  uint64
	written   int
	fragments int
}

// NewMP4Writer creates a writer for path. The pending file is created in
// the same directory immediately so path errors surface before recording.
func NewMP4Writer(path string) (*MP4Writer, error) {
	file, err := renameio.NewPendingFile(path)
	if err != nil {
		return nil, fmt.Errorf("create pending file for %s: %w", path, err)
	}
	return &MP4Writer{
		path:             path,
		file:             file,
		fragmentDuration: DefaultFragmentDuration,
		log:              componentLogger("muxer").With().Str("path", path).Logger(),
	}, nil
}

// NewMP4WriterFactory returns a WriterFactory producing MP4Writers.
func NewMP4WriterFactory() WriterFactory {
	return func(path string) (ContainerWriter, error) {
		return NewMP4Writer(path)
	}
}

// AddTrack implements ContainerWriter.
func (w *MP4Writer) AddTrack(format MediaFormat) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started || w.released {
		return -1, fmt.Errorf("%w: add track after start", ErrWriterState)
	}

	codec, timeScale, err := fmp4Codec(format)
	if err != nil {
		return -1, err
	}

	t := &mp4Track{
		init: &fmp4.InitTrack{
			ID:        len(w.tracks) + 1,
			TimeScale: timeScale,
			Codec:     codec,
		},
		isVideo:   format.IsVideo(),
		frameRate: format.FrameRate,
	}
	w.tracks = append(w.tracks, t)
	return len(w.tracks) - 1, nil
}

// Start implements ContainerWriter. It writes the initialization segment.
func (w *MP4Writer) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started || w.released {
		return fmt.Errorf("%w: start called twice", ErrWriterState)
	}
	if len(w.tracks) == 0 {
		return fmt.Errorf("%w: no tracks", ErrWriterState)
	}

	var initSegment fmp4.Init
	for _, t := range w.tracks {
		initSegment.Tracks = append(initSegment.Tracks, t.init)
	}
	if err := initSegment.Marshal(w.file); err != nil {
		return fmt.Errorf("write init segment: %w", err)
	}
	w.started = true
	return nil
}

// WriteSampleData implements ContainerWriter.
func (w *MP4Writer) WriteSampleData(track int, data []byte, info BufferInfo) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started || w.stopped {
		return fmt.Errorf("%w: write outside started state", ErrWriterState)
	}
	if track < 0 || track >= len(w.tracks) {
		return fmt.Errorf("%w: unknown track %d", ErrWriterState, track)
	}
	t := w.tracks[track]

	payload, err := samplePayload(t.isVideo, data)
	if err != nil {
		return err
	}

	if !t.hasOrigin {
		t.originUs = info.PresentationTimeUs
		t.hasOrigin = true
	}
	dts := usToTimeScale(info.PresentationTimeUs-t.originUs, t.init.TimeScale)

	sample := &fmp4.PartSample{
		IsNonSyncSample: t.isVideo && !info.Flags.Has(BufferFlagKeyFrame),
		Payload:         payload,
	}

	// Hold one sample back: its duration is the gap to the next one.
	prev, prevTime := t.pending, t.pendingTime
	t.pending, t.pendingTime = sample, dts
	if prev == nil {
		return nil
	}

	prev.Duration = uint32(dts - prevTime)
	t.lastDuration = prev.Duration
	w.appendSample(t, prev, prevTime)

	// Cut fragments on sync samples once the span is long enough.
	if t.fragSpan >= usToTimeScale(w.fragmentDuration.Microseconds(), t.init.TimeScale) &&
		!sample.IsNonSyncSample {
		return w.flush(t)
	}
	return nil
}

// Stop implements ContainerWriter. It writes any held samples and atomically
// moves the file into place.
func (w *MP4Writer) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started || w.stopped {
		return fmt.Errorf("%w: stop outside started state", ErrWriterState)
	}
	w.stopped = true

	for _, t := range w.tracks {
		if t.pending != nil {
			t.pending.Duration = t.defaultDuration()
			w.appendSample(t, t.pending, t.pendingTime)
			t.pending = nil
		}
		if err := w.flush(t); err != nil {
			return err
		}
	}

	if err := w.file.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("finalize %s: %w", w.path, err)
	}
	w.released = true

	for _, t := range w.tracks {
		w.log.Debug().Int("track", t.init.ID).Int("samples", t.written).Int("fragments", t.fragments).Msg("track finalized")
	}
	return nil
}

// Release implements ContainerWriter.
func (w *MP4Writer) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.released {
		return nil
	}
	w.released = true
	if err := w.file.Cleanup(); err != nil {
		return fmt.Errorf("discard %s: %w", w.path, err)
	}
	return nil
}

func (w *MP4Writer) appendSample(t *mp4Track, s *fmp4.PartSample, dts uint64) {
	if len(t.samples) == 0 {
		t.baseTime = dts
		t.fragSpan = 0
	}
	t.samples = append(t.samples, s)
	t.fragSpan += uint64(s.Duration)
	t.written++
}

func (w *MP4Writer) flush(t *mp4Track) error {
	if len(t.samples) == 0 {
		return nil
	}
	w.sequence++
	part := fmp4.Part{
		SequenceNumber: w.sequence,
		Tracks: []*fmp4.PartTrack{{
			ID:       t.init.ID,
			BaseTime: t.baseTime,
			Samples:  t.samples,
		}},
	}
	if err := part.Marshal(w.file); err != nil {
		return fmt.Errorf("write fragment %d: %w", w.sequence, err)
	}
	t.samples = nil
	t.fragSpan = 0
	t.fragments++
	return nil
}

func (t *mp4Track) defaultDuration() uint32 {
	if t.lastDuration > 0 {
		return t.lastDuration
	}
	if t.isVideo {
		fps := t.frameRate
		if fps <= 0 {
			fps = DefaultFrameRate
		}
		return t.init.TimeScale / uint32(fps)
	}
	return aacSamplesPerFrame
}

func usToTimeScale(us int64, timeScale uint32) uint64 {
	if us <= 0 {
		return 0
	}
	return uint64(us) * uint64(timeScale) / 1_000_000
}

// samplePayload converts an encoder buffer into an MP4 sample payload. Video
// arrives Annex-B framed and is stored length-prefixed. The result never
// aliases data.
func samplePayload(isVideo bool, data []byte) ([]byte, error) {
	if !isVideo {
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}
	au, err := h264.AnnexBUnmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("parse annex-b access unit: %w", err)
	}
	out, err := h264.AVCCMarshal(au)
	if err != nil {
		return nil, fmt.Errorf("encode avcc access unit: %w", err)
	}
	return out, nil
}

// fmp4Codec builds the init-segment codec from an encoder output format.
func fmp4Codec(format MediaFormat) (fmp4.Codec, uint32, error) {
	switch format.MimeType {
	case VideoCodecH264.MimeType():
		nalus, err := csdNALUs(format.CSD)
		if err != nil {
			return nil, 0, err
		}
		var sps, pps []byte
		for _, n := range nalus {
			switch h264.NALUType(n[0] & 0x1f) {
			case h264.NALUTypeSPS:
				sps = n
			case h264.NALUTypePPS:
				pps = n
			}
		}
		if sps == nil || pps == nil {
			return nil, 0, fmt.Errorf("%w: avc output format without SPS/PPS", ErrInvalidConfig)
		}
		return &fmp4.CodecH264{SPS: sps, PPS: pps}, videoTimeScale, nil

	case VideoCodecH265.MimeType():
		nalus, err := csdNALUs(format.CSD)
		if err != nil {
			return nil, 0, err
		}
		var vps, sps, pps []byte
		for _, n := range nalus {
			switch (n[0] >> 1) & 0x3f {
			case 32:
				vps = n
			case 33:
				sps = n
			case 34:
				pps = n
			}
		}
		if vps == nil || sps == nil || pps == nil {
			return nil, 0, fmt.Errorf("%w: hevc output format without VPS/SPS/PPS", ErrInvalidConfig)
		}
		return &fmp4.CodecH265{VPS: vps, SPS: sps, PPS: pps}, videoTimeScale, nil

	case AudioCodecAAC.MimeType():
		var conf mpeg4audio.Config
		if len(format.CSD) > 0 && len(format.CSD[0]) > 0 {
			if err := conf.Unmarshal(format.CSD[0]); err != nil {
				return nil, 0, fmt.Errorf("parse AudioSpecificConfig: %w", err)
			}
		} else {
			conf = mpeg4audio.Config{
				Type:         mpeg4audio.ObjectTypeAACLC,
				SampleRate:   format.SampleRate,
				ChannelCount: format.ChannelCount,
			}
		}
		if conf.SampleRate <= 0 {
			return nil, 0, fmt.Errorf("%w: aac sample rate %d", ErrInvalidConfig, conf.SampleRate)
		}
		return &fmp4.CodecMPEG4Audio{Config: conf}, uint32(conf.SampleRate), nil

	default:
		return nil, 0, fmt.Errorf("%w: unsupported mime type %q", ErrInvalidConfig, format.MimeType)
	}
}

func csdNALUs(csd [][]byte) ([][]byte, error) {
	var out [][]byte
	for i, buf := range csd {
		if len(buf) == 0 {
			continue
		}
		nalus, err := h264.AnnexBUnmarshal(buf)
		if err != nil {
			return nil, fmt.Errorf("parse csd-%d: %w", i, err)
		}
		for _, n := range nalus {
			if len(n) > 0 {
				out = append(out, n)
			}
		}
	}
	return out, nil
}
