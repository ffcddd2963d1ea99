package recorder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMediaKind_String(t *testing.T) {
	assert.Equal(t, "video", MediaKindVideo.String())
	assert.Equal(t, "audio", MediaKindAudio.String())
	assert.Equal(t, "unknown", MediaKind(7).String())
}

func TestAudioFormat(t *testing.T) {
	tests := []struct {
		format AudioFormat
		want   string
		bytes  int
	}{
		{AudioFormatS16, "S16", 2},
		{AudioFormatF32, "F32", 4},
		{AudioFormat(99), "Unknown", 0},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.format.String())
			assert.Equal(t, tt.bytes, tt.format.BytesPerSample())
		})
	}
}

func TestAudioFormat_UnmarshalText(t *testing.T) {
	tests := map[string]AudioFormat{
		"s16":   AudioFormatS16,
		"PCM16": AudioFormatS16,
		"f32":   AudioFormatF32,
		"float": AudioFormatF32,
	}
	for in, want := range tests {
		var f AudioFormat
		assert.NoError(t, f.UnmarshalText([]byte(in)))
		assert.Equal(t, want, f, in)
	}

	var f AudioFormat
	assert.NoError(t, f.UnmarshalText([]byte("u8")))
	assert.Zero(t, f.BytesPerSample(), "unknown names map to an unusable format")
}

func TestChannelLayout(t *testing.T) {
	assert.Equal(t, 2, ChannelLayoutStereo.Channels())
	assert.Equal(t, 1, ChannelLayoutMono.Channels())
	assert.Equal(t, "mono", ChannelLayoutMono.String())

	var l ChannelLayout
	assert.NoError(t, l.UnmarshalText([]byte("1")))
	assert.Equal(t, ChannelLayoutMono, l)
	assert.NoError(t, l.UnmarshalText([]byte("Stereo")))
	assert.Equal(t, ChannelLayoutStereo, l)
}

func TestBufferFlags(t *testing.T) {
	tests := []struct {
		flags BufferFlags
		want  string
	}{
		{0, "none"},
		{BufferFlagKeyFrame, "key"},
		{BufferFlagCodecConfig, "config"},
		{BufferFlagKeyFrame | BufferFlagEndOfStream, "key|eos"},
		{BufferFlags(64), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.flags.String())
		})
	}

	f := BufferFlagKeyFrame | BufferFlagCodecConfig
	assert.True(t, f.Has(BufferFlagKeyFrame))
	assert.True(t, f.Has(BufferFlagKeyFrame|BufferFlagCodecConfig))
	assert.False(t, f.Has(BufferFlagKeyFrame|BufferFlagEndOfStream))
}
