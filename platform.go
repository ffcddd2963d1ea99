package recorder

import (
	"fmt"
	"sync"
)

// AudioCaptureConfig configures a microphone stream.
type AudioCaptureConfig struct {
	SampleRate int
	Channels   int
	Format     AudioFormat
	BufferSize int // Capture buffer in bytes
}

// AudioCapture is an open microphone stream.
type AudioCapture interface {
	Start() error

	// Read fills buf with PCM data. It blocks for at most one capture
	// buffer period and may return fewer bytes than len(buf), including 0.
	Read(buf []byte) (int, error)

	Stop() error
	Release() error
}

// CaptureProvider opens microphone streams.
type CaptureProvider interface {
	OpenMicrophone(cfg AudioCaptureConfig) (AudioCapture, error)
}

// Platform bundles the native facilities the recorder drives.
type Platform struct {
	Name    string
	GL      GLES
	Display DisplayProvider
	Codecs  CodecProvider
	Capture CaptureProvider
	Writers WriterFactory // nil = fragmented MP4 files
}

func (p Platform) validate() error {
	switch {
	case p.GL == nil:
		return fmt.Errorf("%w: platform %q has no GLES", ErrPlatformUnavailable, p.Name)
	case p.Display == nil:
		return fmt.Errorf("%w: platform %q has no display provider", ErrPlatformUnavailable, p.Name)
	case p.Codecs == nil:
		return fmt.Errorf("%w: platform %q has no codec provider", ErrPlatformUnavailable, p.Name)
	case p.Capture == nil:
		return fmt.Errorf("%w: platform %q has no capture provider", ErrPlatformUnavailable, p.Name)
	}
	return nil
}

func (p Platform) writers() WriterFactory {
	if p.Writers != nil {
		return p.Writers
	}
	return NewMP4WriterFactory()
}

// platformRegistry holds the platform registered by a native backend.
type platformRegistry struct {
	platform *Platform
	err      error
	mu       sync.RWMutex
}

var globalPlatformRegistry = &platformRegistry{err: ErrPlatformUnavailable}

// RegisterPlatform registers the native platform. Backends call it from
// init; a non-nil err records why the backend could not load.
func RegisterPlatform(p *Platform, err error) {
	globalPlatformRegistry.mu.Lock()
	defer globalPlatformRegistry.mu.Unlock()
	globalPlatformRegistry.platform = p
	globalPlatformRegistry.err = err
}

// DefaultPlatform returns the registered native platform.
func DefaultPlatform() (Platform, error) {
	globalPlatformRegistry.mu.RLock()
	defer globalPlatformRegistry.mu.RUnlock()

	if globalPlatformRegistry.err != nil {
		return Platform{}, globalPlatformRegistry.err
	}
	if globalPlatformRegistry.platform == nil {
		return Platform{}, ErrPlatformUnavailable
	}
	p := *globalPlatformRegistry.platform
	if err := p.validate(); err != nil {
		return Platform{}, err
	}
	return p, nil
}
