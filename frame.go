// Core frame, buffer and result types shared by the compositor and workers.
package recorder

import (
	"strings"
	"time"
)

// MediaKind identifies which stream a worker or result belongs to.
type MediaKind int

const (
	MediaKindVideo MediaKind = iota
	MediaKindAudio
)

func (k MediaKind) String() string {
	switch k {
	case MediaKindVideo:
		return "video"
	case MediaKindAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// AudioFormat represents audio sample formats.
type AudioFormat int

const (
	AudioFormatS16 AudioFormat = iota // Signed 16-bit PCM
	AudioFormatF32                    // 32-bit float
)

func (a AudioFormat) String() string {
	switch a {
	case AudioFormatS16:
		return "S16"
	case AudioFormatF32:
		return "F32"
	default:
		return "Unknown"
	}
}

// BytesPerSample returns the number of bytes per sample for this format.
func (a AudioFormat) BytesPerSample() int {
	switch a {
	case AudioFormatS16:
		return 2
	case AudioFormatF32:
		return 4
	default:
		return 0
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a AudioFormat) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(a.String())), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *AudioFormat) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "f32", "float":
		*a = AudioFormatF32
	case "s16", "pcm16":
		*a = AudioFormatS16
	default:
		*a = AudioFormat(-1)
	}
	return nil
}

// ChannelLayout is the microphone channel configuration.
type ChannelLayout int

const (
	ChannelLayoutStereo ChannelLayout = iota
	ChannelLayoutMono
)

// Channels returns the channel count for the layout.
func (l ChannelLayout) Channels() int {
	if l == ChannelLayoutMono {
		return 1
	}
	return 2
}

func (l ChannelLayout) String() string {
	switch l {
	case ChannelLayoutStereo:
		return "stereo"
	case ChannelLayoutMono:
		return "mono"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l ChannelLayout) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *ChannelLayout) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "mono", "1":
		*l = ChannelLayoutMono
	default:
		*l = ChannelLayoutStereo
	}
	return nil
}

// FrameSample is one composited frame handed from the compositor to the
// video worker. It is never queued beyond one pending item.
type FrameSample struct {
	TextureID   uint32 // Composited texture on the compositor's shared context
	TimestampNs int64  // Device capture timestamp in nanoseconds
}

// BufferFlags mirror the MediaCodec buffer flags.
type BufferFlags uint32

const (
	BufferFlagKeyFrame    BufferFlags = 1
	BufferFlagCodecConfig BufferFlags = 2
	BufferFlagEndOfStream BufferFlags = 4
)

// Has returns true if all specified flags are set.
func (f BufferFlags) Has(flag BufferFlags) bool { return f&flag == flag }

func (f BufferFlags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	if f.Has(BufferFlagKeyFrame) {
		parts = append(parts, "key")
	}
	if f.Has(BufferFlagCodecConfig) {
		parts = append(parts, "config")
	}
	if f.Has(BufferFlagEndOfStream) {
		parts = append(parts, "eos")
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, "|")
}

// BufferInfo describes one encoded buffer handed out by an encoder. The
// payload it refers to is a borrowed view into codec memory and is only
// valid until the buffer is released back to the encoder.
type BufferInfo struct {
	Offset             int
	Size               int
	PresentationTimeUs int64
	Flags              BufferFlags
}

// RecordResult describes one finished stream. A stream that produced no
// samples writes no file; its Path is empty.
type RecordResult struct {
	Kind     MediaKind
	Path     string // Empty when Samples is 0
	Duration time.Duration // Last accepted timestamp minus the first
	MimeType string
	Samples  int // Samples written to the container
}
