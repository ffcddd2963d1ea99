package recorder

import (
	"errors"
	"time"
)

// Common errors
var (
	ErrInvalidConfig       = errors.New("invalid config")
	ErrInvalidSize         = errors.New("invalid size")
	ErrProtocolViolation   = errors.New("codec protocol violation")
	ErrFormatChangedTwice  = errors.New("output format changed twice")
	ErrWriterNotStarted    = errors.New("container writer not started")
	ErrNilOutputBuffer     = errors.New("encoder returned nil output buffer")
	ErrEndOfStreamTimeout  = errors.New("timed out waiting for end of stream")
	ErrWorkerClosed        = errors.New("worker closed")
	ErrPlatformUnavailable = errors.New("native platform not available")
	ErrNotAttached         = errors.New("texture source not attached to a GL context")
)

// Dequeue status codes returned by DequeueOutputBuffer and
// DequeueInputBuffer when no buffer index is available. They match the
// AMEDIACODEC_INFO_* values.
const (
	InfoTryAgainLater        = -1
	InfoOutputFormatChanged  = -2
	InfoOutputBuffersChanged = -3
)

// MediaFormat is the subset of AMediaFormat keys used to configure encoders
// and describe their output.
type MediaFormat struct {
	MimeType string

	// Video
	Width          int
	Height         int
	ColorFormat    int
	FrameRate      int
	IFrameInterval int
	Profile        int
	Level          int

	// Audio
	SampleRate   int
	ChannelCount int
	AACProfile   int
	MaxInputSize int

	BitRate int

	// CSD holds codec-specific data (csd-0, csd-1, ...) reported with the
	// output format. For AVC csd-0 is the SPS and csd-1 the PPS, both
	// Annex-B framed. For HEVC csd-0 carries VPS, SPS and PPS. For AAC csd-0
	// is the AudioSpecificConfig.
	CSD [][]byte
}

// IsVideo returns true if the format describes a video stream.
func (f MediaFormat) IsVideo() bool {
	return len(f.MimeType) > 6 && f.MimeType[:6] == "video/"
}

// videoFormat builds the encoder input format for a session.
func videoFormat(cfg VideoConfig) MediaFormat {
	profile, level := cfg.Codec.ProfileLevel(cfg.Width, cfg.Height)
	return MediaFormat{
		MimeType:       cfg.Codec.MimeType(),
		Width:          cfg.Width,
		Height:         cfg.Height,
		ColorFormat:    colorFormatSurface,
		BitRate:        cfg.BitRate,
		FrameRate:      cfg.FrameRate,
		IFrameInterval: cfg.IFrameInterval,
		Profile:        profile,
		Level:          level,
	}
}

// audioFormat builds the AAC encoder format for a session.
func audioFormat(cfg AudioConfig) MediaFormat {
	return MediaFormat{
		MimeType:     AudioCodecAAC.MimeType(),
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.Channels.Channels(),
		BitRate:      cfg.BitRate,
		AACProfile:   aacObjectLC,
		MaxInputSize: cfg.ChunkSize(),
	}
}

// Encoder is the output side shared by the hardware video and audio
// encoders. Implementations are not safe for concurrent use; each encoder
// belongs to exactly one worker goroutine.
type Encoder interface {
	// Start moves a configured encoder into the executing state.
	Start() error

	// DequeueOutputBuffer waits up to timeout for an encoded buffer. It
	// returns a buffer index (>= 0) with its info, or one of the Info*
	// status codes.
	DequeueOutputBuffer(timeout time.Duration) (int, BufferInfo)

	// OutputBuffer returns the codec-owned memory behind index. The slice
	// is only valid until ReleaseOutputBuffer.
	OutputBuffer(index int) []byte

	// ReleaseOutputBuffer hands index back to the encoder.
	ReleaseOutputBuffer(index int) error

	// OutputFormat returns the format reported with InfoOutputFormatChanged.
	OutputFormat() (MediaFormat, error)

	// Stop returns the encoder to the configured state.
	Stop() error

	// Release frees the native encoder.
	Release() error
}

// VideoEncoder is a surface-input encoder.
type VideoEncoder interface {
	Encoder

	// CreateInputSurface returns the window the encoder reads frames from.
	// Must be called after configuration and before Start.
	CreateInputSurface() (NativeWindow, error)

	// SignalEndOfInputStream marks the surface input as finished.
	SignalEndOfInputStream() error
}

// AudioEncoder is a buffer-input encoder.
type AudioEncoder interface {
	Encoder

	// DequeueInputBuffer waits up to timeout for a free input buffer and
	// returns its index or InfoTryAgainLater.
	DequeueInputBuffer(timeout time.Duration) int

	// InputBuffer returns the codec-owned memory behind index.
	InputBuffer(index int) []byte

	// QueueInputBuffer submits size bytes at offset of the input buffer.
	QueueInputBuffer(index, offset, size int, presentationTimeUs int64, flags BufferFlags) error
}

// CodecProvider creates configured, not yet started, hardware encoders.
type CodecProvider interface {
	NewVideoEncoder(format MediaFormat) (VideoEncoder, error)
	NewAudioEncoder(format MediaFormat) (AudioEncoder, error)
}
