//go:build android

// Hardware encoders via libmediandk (AMediaCodec / AMediaFormat).

package recorder

import (
	"fmt"
	"time"
	"unsafe"
)

// libmediandk function pointers
var (
	aMediaCodecCreateEncoderByType    func(mime string) uintptr
	aMediaCodecConfigure              func(codec, format, surface, crypto uintptr, flags uint32) int32
	aMediaCodecCreateInputSurface     func(codec uintptr, window uintptr) int32
	aMediaCodecStart                  func(codec uintptr) int32
	aMediaCodecStop                   func(codec uintptr) int32
	aMediaCodecDelete                 func(codec uintptr) int32
	aMediaCodecDequeueOutputBuffer    func(codec uintptr, info uintptr, timeoutUs int64) int64
	aMediaCodecGetOutputBuffer        func(codec uintptr, index uint64, outSize uintptr) uintptr
	aMediaCodecReleaseOutputBuffer    func(codec uintptr, index uint64, render bool) int32
	aMediaCodecGetOutputFormat        func(codec uintptr) uintptr
	aMediaCodecSignalEndOfInputStream func(codec uintptr) int32
	aMediaCodecDequeueInputBuffer     func(codec uintptr, timeoutUs int64) int64
	aMediaCodecGetInputBuffer         func(codec uintptr, index uint64, outSize uintptr) uintptr
	aMediaCodecQueueInputBuffer       func(codec uintptr, index uint64, offset int64, size uint64, timeUs uint64, flags uint32) int32

	aMediaFormatNew       func() uintptr
	aMediaFormatDelete    func(format uintptr) int32
	aMediaFormatSetString func(format uintptr, name, value string)
	aMediaFormatSetInt32  func(format uintptr, name string, value int32)
	aMediaFormatGetInt32  func(format uintptr, name string, out uintptr) bool
	aMediaFormatGetString func(format uintptr, name string, out uintptr) bool
	aMediaFormatGetBuffer func(format uintptr, name string, data uintptr, size uintptr) bool
)

// Constants from NdkMediaCodec.h / NdkMediaFormat.h
const (
	aMediaCodecConfigureFlagEncode = 1
	aMediaOK                       = 0

	keyMime           = "mime"
	keyWidth          = "width"
	keyHeight         = "height"
	keyColorFormat    = "color-format"
	keyBitRate        = "bitrate"
	keyFrameRate      = "frame-rate"
	keyIFrameInterval = "i-frame-interval"
	keyProfile        = "profile"
	keyLevel          = "level"
	keySampleRate     = "sample-rate"
	keyChannelCount   = "channel-count"
	keyAACProfile     = "aac-profile"
	keyMaxInputSize   = "max-input-size"
)

var mediaNDK = &ndkLibrary{
	name:   "libmediandk.so",
	envVar: "RECORDER_MEDIANDK_PATH",
	symbols: func(h uintptr) error {
		return registerSymbols(h, map[string]any{
			"AMediaCodec_createEncoderByType":    &aMediaCodecCreateEncoderByType,
			"AMediaCodec_configure":              &aMediaCodecConfigure,
			"AMediaCodec_createInputSurface":     &aMediaCodecCreateInputSurface,
			"AMediaCodec_start":                  &aMediaCodecStart,
			"AMediaCodec_stop":                   &aMediaCodecStop,
			"AMediaCodec_delete":                 &aMediaCodecDelete,
			"AMediaCodec_dequeueOutputBuffer":    &aMediaCodecDequeueOutputBuffer,
			"AMediaCodec_getOutputBuffer":        &aMediaCodecGetOutputBuffer,
			"AMediaCodec_releaseOutputBuffer":    &aMediaCodecReleaseOutputBuffer,
			"AMediaCodec_getOutputFormat":        &aMediaCodecGetOutputFormat,
			"AMediaCodec_signalEndOfInputStream": &aMediaCodecSignalEndOfInputStream,
			"AMediaCodec_dequeueInputBuffer":     &aMediaCodecDequeueInputBuffer,
			"AMediaCodec_getInputBuffer":         &aMediaCodecGetInputBuffer,
			"AMediaCodec_queueInputBuffer":       &aMediaCodecQueueInputBuffer,
			"AMediaFormat_new":                   &aMediaFormatNew,
			"AMediaFormat_delete":                &aMediaFormatDelete,
			"AMediaFormat_setString":             &aMediaFormatSetString,
			"AMediaFormat_setInt32":              &aMediaFormatSetInt32,
			"AMediaFormat_getInt32":              &aMediaFormatGetInt32,
			"AMediaFormat_getString":             &aMediaFormatGetString,
			"AMediaFormat_getBuffer":             &aMediaFormatGetBuffer,
		})
	},
}

// aMediaCodecBufferInfo mirrors AMediaCodecBufferInfo.
type aMediaCodecBufferInfo struct {
	offset             int32
	size               int32
	presentationTimeUs int64
	flags              uint32
}

func mediaStatus(op string, status int32) error {
	if status == aMediaOK {
		return nil
	}
	return fmt.Errorf("%s: media status %d", op, status)
}

// newNativeFormat converts f to an AMediaFormat. The caller deletes it.
func newNativeFormat(f MediaFormat) uintptr {
	format := aMediaFormatNew()
	aMediaFormatSetString(format, keyMime, f.MimeType)

	setInt := func(key string, v int) {
		if v > 0 {
			aMediaFormatSetInt32(format, key, int32(v))
		}
	}
	setInt(keyWidth, f.Width)
	setInt(keyHeight, f.Height)
	setInt(keyColorFormat, f.ColorFormat)
	setInt(keyBitRate, f.BitRate)
	setInt(keyFrameRate, f.FrameRate)
	setInt(keyIFrameInterval, f.IFrameInterval)
	setInt(keyProfile, f.Profile)
	setInt(keyLevel, f.Level)
	setInt(keySampleRate, f.SampleRate)
	setInt(keyChannelCount, f.ChannelCount)
	setInt(keyAACProfile, f.AACProfile)
	setInt(keyMaxInputSize, f.MaxInputSize)
	return format
}

// readNativeFormat converts an AMediaFormat reported by the codec.
func readNativeFormat(format uintptr) MediaFormat {
	getInt := func(key string) int {
		v := new(int32)
		if !aMediaFormatGetInt32(format, key, uintptr(unsafe.Pointer(v))) {
			return 0
		}
		return int(*v)
	}

	var f MediaFormat
	mime := new(uintptr)
	if aMediaFormatGetString(format, keyMime, uintptr(unsafe.Pointer(mime))) {
		f.MimeType = goStringFromPtr(*mime)
	}
	f.Width = getInt(keyWidth)
	f.Height = getInt(keyHeight)
	f.SampleRate = getInt(keySampleRate)
	f.ChannelCount = getInt(keyChannelCount)
	f.BitRate = getInt(keyBitRate)

	for i := 0; ; i++ {
		data := new(uintptr)
		size := new(uint64)
		if !aMediaFormatGetBuffer(format, fmt.Sprintf("csd-%d", i),
			uintptr(unsafe.Pointer(data)), uintptr(unsafe.Pointer(size))) {
			break
		}
		// Copy out of codec-owned memory.
		f.CSD = append(f.CSD, append([]byte(nil), unsafe.Slice((*byte)(unsafe.Pointer(*data)), *size)...))
	}
	return f
}

// ndkCodecProvider creates AMediaCodec encoders.
type ndkCodecProvider struct{}

func (ndkCodecProvider) NewVideoEncoder(format MediaFormat) (VideoEncoder, error) {
	c, err := newNDKCodec(format)
	if err != nil {
		return nil, err
	}
	return &ndkVideoEncoder{ndkCodec: c}, nil
}

func (ndkCodecProvider) NewAudioEncoder(format MediaFormat) (AudioEncoder, error) {
	c, err := newNDKCodec(format)
	if err != nil {
		return nil, err
	}
	return &ndkAudioEncoder{ndkCodec: c}, nil
}

// ndkCodec implements Encoder over one AMediaCodec.
type ndkCodec struct {
	codec uintptr
	info  *aMediaCodecBufferInfo
}

func newNDKCodec(format MediaFormat) (*ndkCodec, error) {
	if err := mediaNDK.load(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPlatformUnavailable, err)
	}

	codec := aMediaCodecCreateEncoderByType(format.MimeType)
	if codec == 0 {
		return nil, fmt.Errorf("create encoder for %s: %w", format.MimeType, errNullHandle)
	}

	nf := newNativeFormat(format)
	defer aMediaFormatDelete(nf)

	if err := mediaStatus("configure", aMediaCodecConfigure(codec, nf, 0, 0, aMediaCodecConfigureFlagEncode)); err != nil {
		aMediaCodecDelete(codec)
		return nil, fmt.Errorf("%w: %s", err, format.MimeType)
	}
	return &ndkCodec{codec: codec, info: new(aMediaCodecBufferInfo)}, nil
}

func (c *ndkCodec) Start() error {
	return mediaStatus("start", aMediaCodecStart(c.codec))
}

func (c *ndkCodec) DequeueOutputBuffer(timeout time.Duration) (int, BufferInfo) {
	index := aMediaCodecDequeueOutputBuffer(c.codec, uintptr(unsafe.Pointer(c.info)), timeout.Microseconds())
	if index < 0 {
		return int(index), BufferInfo{}
	}
	return int(index), BufferInfo{
		Offset:             int(c.info.offset),
		Size:               int(c.info.size),
		PresentationTimeUs: c.info.presentationTimeUs,
		Flags:              BufferFlags(c.info.flags),
	}
}

func (c *ndkCodec) OutputBuffer(index int) []byte {
	size := new(uint64)
	ptr := aMediaCodecGetOutputBuffer(c.codec, uint64(index), uintptr(unsafe.Pointer(size)))
	if ptr == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), *size)
}

func (c *ndkCodec) ReleaseOutputBuffer(index int) error {
	return mediaStatus("release output buffer", aMediaCodecReleaseOutputBuffer(c.codec, uint64(index), false))
}

func (c *ndkCodec) OutputFormat() (MediaFormat, error) {
	format := aMediaCodecGetOutputFormat(c.codec)
	if format == 0 {
		return MediaFormat{}, fmt.Errorf("output format: %w", errNullHandle)
	}
	defer aMediaFormatDelete(format)
	return readNativeFormat(format), nil
}

func (c *ndkCodec) Stop() error {
	return mediaStatus("stop", aMediaCodecStop(c.codec))
}

func (c *ndkCodec) Release() error {
	if c.codec == 0 {
		return nil
	}
	err := mediaStatus("delete", aMediaCodecDelete(c.codec))
	c.codec = 0
	return err
}

type ndkVideoEncoder struct {
	*ndkCodec
	window uintptr
}

func (e *ndkVideoEncoder) CreateInputSurface() (NativeWindow, error) {
	window := new(uintptr)
	if err := mediaStatus("create input surface", aMediaCodecCreateInputSurface(e.codec, uintptr(unsafe.Pointer(window)))); err != nil {
		return 0, err
	}
	e.window = *window
	return NativeWindow(*window), nil
}

func (e *ndkVideoEncoder) SignalEndOfInputStream() error {
	return mediaStatus("signal end of input stream", aMediaCodecSignalEndOfInputStream(e.codec))
}

func (e *ndkVideoEncoder) Release() error {
	err := e.ndkCodec.Release()
	if e.window != 0 {
		aNativeWindowRelease(e.window)
		e.window = 0
	}
	return err
}

type ndkAudioEncoder struct {
	*ndkCodec
}

func (e *ndkAudioEncoder) DequeueInputBuffer(timeout time.Duration) int {
	index := aMediaCodecDequeueInputBuffer(e.codec, timeout.Microseconds())
	if index < 0 {
		return InfoTryAgainLater
	}
	return int(index)
}

func (e *ndkAudioEncoder) InputBuffer(index int) []byte {
	size := new(uint64)
	ptr := aMediaCodecGetInputBuffer(e.codec, uint64(index), uintptr(unsafe.Pointer(size)))
	if ptr == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), *size)
}

func (e *ndkAudioEncoder) QueueInputBuffer(index, offset, size int, presentationTimeUs int64, flags BufferFlags) error {
	return mediaStatus("queue input buffer",
		aMediaCodecQueueInputBuffer(e.codec, uint64(index), int64(offset), uint64(size), uint64(presentationTimeUs), uint32(flags)))
}
