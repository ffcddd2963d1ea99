package recorder

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Recording defaults.
const (
	DefaultWidth          = 1280
	DefaultHeight         = 720
	DefaultFrameRate      = 25
	DefaultIFrameInterval = 1 // seconds
	DefaultVideoBitRate   = 6693560
	LowQualityBitRate     = 3921332

	DefaultSampleRate   = 44100
	DefaultAudioBitRate = 128000

	// DefaultDrainTimeout bounds one output-queue poll. It is also the step
	// used to repair non-increasing presentation timestamps.
	DefaultDrainTimeout = 10 * time.Millisecond
	// DefaultEOSTimeout bounds the final drain after end of stream is signaled.
	DefaultEOSTimeout = 3 * time.Second

	defaultAudioChunkSize = 8192
	captureWindow         = 20 * time.Millisecond
)

// VideoConfig configures the video half of a session. It is immutable once
// the session starts.
type VideoConfig struct {
	Width          int           `yaml:"width"`            // Target width, rounded up to even
	Height         int           `yaml:"height"`           // Target height, rounded up to even
	BitRate        int           `yaml:"bitrate"`          // Bits per second (0 = default)
	LowQuality     bool          `yaml:"low_quality"`      // Use the reduced default bitrate
	Codec          VideoCodec    `yaml:"codec"`            // H264 or H265
	FrameRate      int           `yaml:"frame_rate"`       // Encoder frame-rate hint
	IFrameInterval int           `yaml:"i_frame_interval"` // Seconds between key frames
	MaxDuration    time.Duration `yaml:"max_duration"`     // Auto-stop bound (0 = unlimited)
	OutputPath     string        `yaml:"output_path"`      // Destination container file
	DrainTimeout   time.Duration `yaml:"drain_timeout"`    // Output-queue poll timeout
	EOSTimeout     time.Duration `yaml:"eos_timeout"`      // Bound on the final drain

	// SharedContext is the compositor's GPU context. The video worker
	// creates its own context sharing textures with it.
	SharedContext GPUContext `yaml:"-"`
}

// DefaultVideoConfig returns the default video configuration.
func DefaultVideoConfig() VideoConfig {
	return VideoConfig{
		Width:          DefaultWidth,
		Height:         DefaultHeight,
		BitRate:        DefaultVideoBitRate,
		Codec:          VideoCodecH264,
		FrameRate:      DefaultFrameRate,
		IFrameInterval: DefaultIFrameInterval,
		DrainTimeout:   DefaultDrainTimeout,
		EOSTimeout:     DefaultEOSTimeout,
	}
}

func (c *VideoConfig) normalize() {
	if c.Width <= 0 {
		c.Width = DefaultWidth
	}
	if c.Height <= 0 {
		c.Height = DefaultHeight
	}

	// Ensure even dimensions
	c.Width = (c.Width + 1) &^ 1
	c.Height = (c.Height + 1) &^ 1

	if c.BitRate <= 0 {
		c.BitRate = DefaultVideoBitRate
		if c.LowQuality {
			c.BitRate = LowQualityBitRate
		}
	}
	if c.Codec == VideoCodecUnknown {
		c.Codec = VideoCodecH264
	}
	if c.FrameRate <= 0 {
		c.FrameRate = DefaultFrameRate
	}
	if c.IFrameInterval <= 0 {
		c.IFrameInterval = DefaultIFrameInterval
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.EOSTimeout <= 0 {
		c.EOSTimeout = DefaultEOSTimeout
	}
}

// Validate reports whether the configuration can start a session.
func (c VideoConfig) Validate() error {
	if c.OutputPath == "" {
		return fmt.Errorf("%w: video output path is required", ErrInvalidConfig)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: video size %dx%d", ErrInvalidConfig, c.Width, c.Height)
	}
	if c.Codec.MimeType() == "" {
		return fmt.Errorf("%w: unsupported video codec %s", ErrInvalidConfig, c.Codec)
	}
	if c.MaxDuration < 0 {
		return fmt.Errorf("%w: negative max duration", ErrInvalidConfig)
	}
	return nil
}

// AudioConfig configures the audio half of a session.
type AudioConfig struct {
	SampleRate   int           `yaml:"sample_rate"`
	Channels     ChannelLayout `yaml:"channels"`
	BitRate      int           `yaml:"bitrate"`
	Format       AudioFormat   `yaml:"sample_format"`
	MaxDuration  time.Duration `yaml:"max_duration"`
	OutputPath   string        `yaml:"output_path"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
	EOSTimeout   time.Duration `yaml:"eos_timeout"`
}

// DefaultAudioConfig returns the default audio configuration: AAC-LC,
// 44.1kHz stereo, 16-bit PCM capture.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		SampleRate:   DefaultSampleRate,
		Channels:     ChannelLayoutStereo,
		BitRate:      DefaultAudioBitRate,
		Format:       AudioFormatS16,
		DrainTimeout: DefaultDrainTimeout,
		EOSTimeout:   DefaultEOSTimeout,
	}
}

func (c *AudioConfig) normalize() {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.BitRate <= 0 {
		c.BitRate = DefaultAudioBitRate
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.EOSTimeout <= 0 {
		c.EOSTimeout = DefaultEOSTimeout
	}
}

// Validate reports whether the configuration can start a session.
func (c AudioConfig) Validate() error {
	if c.OutputPath == "" {
		return fmt.Errorf("%w: audio output path is required", ErrInvalidConfig)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, c.SampleRate)
	}
	if c.Format.BytesPerSample() == 0 {
		return fmt.Errorf("%w: unsupported sample format %s", ErrInvalidConfig, c.Format)
	}
	if c.MaxDuration < 0 {
		return fmt.Errorf("%w: negative max duration", ErrInvalidConfig)
	}
	return nil
}

// FrameSize returns the bytes in one PCM frame (one sample per channel).
func (c AudioConfig) FrameSize() int {
	return c.Format.BytesPerSample() * c.Channels.Channels()
}

// CaptureBufferSize returns the microphone buffer length in bytes. It covers
// 20ms of 16-bit stereo audio at the configured sample rate.
func (c AudioConfig) CaptureBufferSize() int {
	return c.SampleRate * 4 * int(captureWindow/time.Millisecond) / 1000
}

// ChunkSize returns the number of PCM bytes fed to the encoder per input
// buffer. It shrinks to half the capture buffer when that buffer is smaller
// than the default chunk.
func (c AudioConfig) ChunkSize() int {
	capture := c.CaptureBufferSize()
	if capture < defaultAudioChunkSize {
		chunk := capture / 2
		// Keep whole PCM frames.
		if fs := c.FrameSize(); fs > 0 {
			chunk -= chunk % fs
		}
		return chunk
	}
	return defaultAudioChunkSize
}

// SessionConfig is the on-disk form of a recording session.
type SessionConfig struct {
	Video VideoConfig `yaml:"video"`
	Audio AudioConfig `yaml:"audio"`
}

// DefaultSessionConfig returns defaults for both streams.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Video: DefaultVideoConfig(),
		Audio: DefaultAudioConfig(),
	}
}

// LoadSessionConfig reads a YAML session file. Unset fields keep their
// defaults; unknown fields are rejected.
func LoadSessionConfig(path string) (SessionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SessionConfig{}, fmt.Errorf("read session config: %w", err)
	}
	return ParseSessionConfig(data)
}

// ParseSessionConfig decodes a YAML session document.
func ParseSessionConfig(data []byte) (SessionConfig, error) {
	cfg := DefaultSessionConfig()
	// Left for normalize so low_quality can pick the reduced rate.
	cfg.Video.BitRate = 0

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return SessionConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	cfg.Video.normalize()
	cfg.Audio.normalize()
	if err := cfg.Video.Validate(); err != nil {
		return SessionConfig{}, err
	}
	if err := cfg.Audio.Validate(); err != nil {
		return SessionConfig{}, err
	}
	return cfg, nil
}
