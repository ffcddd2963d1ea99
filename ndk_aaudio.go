//go:build android

// Microphone capture via libaaudio.

package recorder

import (
	"fmt"
	"time"
	"unsafe"
)

// libaaudio function pointers
var (
	aaudioCreateStreamBuilder      func(builder uintptr) int32
	aaudioBuilderSetDirection      func(builder uintptr, direction int32)
	aaudioBuilderSetSampleRate     func(builder uintptr, rate int32)
	aaudioBuilderSetChannelCount   func(builder uintptr, channels int32)
	aaudioBuilderSetFormat         func(builder uintptr, format int32)
	aaudioBuilderSetBufferCapacity func(builder uintptr, frames int32)
	aaudioBuilderOpenStream        func(builder uintptr, stream uintptr) int32
	aaudioBuilderDelete            func(builder uintptr) int32
	aaudioStreamRequestStart       func(stream uintptr) int32
	aaudioStreamRequestStop        func(stream uintptr) int32
	aaudioStreamRead               func(stream uintptr, buffer uintptr, frames int32, timeoutNanos int64) int32
	aaudioStreamClose              func(stream uintptr) int32
)

// Constants from AAudio.h
const (
	aaudioOK             = 0
	aaudioDirectionInput = 1
	aaudioFormatPCMI16   = 1
	aaudioFormatPCMFloat = 2
)

var aaudioLib = &ndkLibrary{
	name:   "libaaudio.so",
	envVar: "RECORDER_AAUDIO_PATH",
	symbols: func(h uintptr) error {
		return registerSymbols(h, map[string]any{
			"AAudio_createStreamBuilder":                    &aaudioCreateStreamBuilder,
			"AAudioStreamBuilder_setDirection":              &aaudioBuilderSetDirection,
			"AAudioStreamBuilder_setSampleRate":             &aaudioBuilderSetSampleRate,
			"AAudioStreamBuilder_setChannelCount":           &aaudioBuilderSetChannelCount,
			"AAudioStreamBuilder_setFormat":                 &aaudioBuilderSetFormat,
			"AAudioStreamBuilder_setBufferCapacityInFrames": &aaudioBuilderSetBufferCapacity,
			"AAudioStreamBuilder_openStream":                &aaudioBuilderOpenStream,
			"AAudioStreamBuilder_delete":                    &aaudioBuilderDelete,
			"AAudioStream_requestStart":                     &aaudioStreamRequestStart,
			"AAudioStream_requestStop":                      &aaudioStreamRequestStop,
			"AAudioStream_read":                             &aaudioStreamRead,
			"AAudioStream_close":                            &aaudioStreamClose,
		})
	},
}

func aaudioStatus(op string, rc int32) error {
	if rc >= aaudioOK {
		return nil
	}
	return fmt.Errorf("%s: aaudio result %d", op, rc)
}

// aaudioCaptureProvider opens AAudio input streams.
type aaudioCaptureProvider struct{}

func (aaudioCaptureProvider) OpenMicrophone(cfg AudioCaptureConfig) (AudioCapture, error) {
	if err := aaudioLib.load(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPlatformUnavailable, err)
	}

	frameSize := cfg.Format.BytesPerSample() * cfg.Channels
	if frameSize == 0 {
		return nil, fmt.Errorf("%w: capture format %s x %d", ErrInvalidConfig, cfg.Format, cfg.Channels)
	}
	format := int32(aaudioFormatPCMI16)
	if cfg.Format == AudioFormatF32 {
		format = aaudioFormatPCMFloat
	}

	builder := new(uintptr)
	if err := aaudioStatus("create stream builder", aaudioCreateStreamBuilder(uintptr(unsafe.Pointer(builder)))); err != nil {
		return nil, err
	}
	defer aaudioBuilderDelete(*builder)

	aaudioBuilderSetDirection(*builder, aaudioDirectionInput)
	aaudioBuilderSetSampleRate(*builder, int32(cfg.SampleRate))
	aaudioBuilderSetChannelCount(*builder, int32(cfg.Channels))
	aaudioBuilderSetFormat(*builder, format)
	if cfg.BufferSize > 0 {
		aaudioBuilderSetBufferCapacity(*builder, int32(cfg.BufferSize/frameSize))
	}

	stream := new(uintptr)
	if err := aaudioStatus("open stream", aaudioBuilderOpenStream(*builder, uintptr(unsafe.Pointer(stream)))); err != nil {
		return nil, err
	}

	// One read waits at most one capture buffer period.
	period := captureWindow
	if cfg.BufferSize > 0 && cfg.SampleRate > 0 {
		period = time.Duration(cfg.BufferSize/frameSize) * time.Second / time.Duration(cfg.SampleRate)
	}
	return &aaudioCapture{stream: *stream, frameSize: frameSize, timeout: period}, nil
}

// aaudioCapture implements AudioCapture.
type aaudioCapture struct {
	stream    uintptr
	frameSize int
	timeout   time.Duration
}

func (c *aaudioCapture) Start() error {
	return aaudioStatus("request start", aaudioStreamRequestStart(c.stream))
}

func (c *aaudioCapture) Read(buf []byte) (int, error) {
	frames := len(buf) / c.frameSize
	if frames == 0 {
		return 0, nil
	}
	n := aaudioStreamRead(c.stream, uintptr(unsafe.Pointer(&buf[0])), int32(frames), c.timeout.Nanoseconds())
	if err := aaudioStatus("read", n); err != nil {
		return 0, err
	}
	return int(n) * c.frameSize, nil
}

func (c *aaudioCapture) Stop() error {
	return aaudioStatus("request stop", aaudioStreamRequestStop(c.stream))
}

func (c *aaudioCapture) Release() error {
	if c.stream == 0 {
		return nil
	}
	err := aaudioStatus("close", aaudioStreamClose(c.stream))
	c.stream = 0
	return err
}
