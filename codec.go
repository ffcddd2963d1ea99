package recorder

// VideoCodec identifies the video codec type.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecH264
	VideoCodecH265
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecH264:
		return "H264"
	case VideoCodecH265:
		return "H265"
	default:
		return "Unknown"
	}
}

// MimeType returns the MediaCodec MIME type for this codec.
func (c VideoCodec) MimeType() string {
	switch c {
	case VideoCodecH264:
		return "video/avc"
	case VideoCodecH265:
		return "video/hevc"
	default:
		return ""
	}
}

// ParseVideoCodec maps a codec name or MIME type to a VideoCodec.
func ParseVideoCodec(s string) VideoCodec {
	switch s {
	case "H264", "h264", "avc", "video/avc":
		return VideoCodecH264
	case "H265", "h265", "hevc", "video/hevc":
		return VideoCodecH265
	default:
		return VideoCodecUnknown
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c VideoCodec) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *VideoCodec) UnmarshalText(text []byte) error {
	*c = ParseVideoCodec(string(text))
	return nil
}

// Encoder profile and level values as defined by MediaCodecInfo.CodecProfileLevel.
const (
	avcProfileHigh = 0x08
	avcLevel31     = 0x200
	avcLevel4      = 0x800

	hevcProfileMain      = 0x01
	hevcMainTierLevel31  = 0x100
	hevcMainTierLevel4   = 0x400
	aacObjectLC          = 2
	colorFormatSurface   = 0x7F000789
	fullHDPixelThreshold = 1920 * 1080
)

// ProfileLevel returns the encoder profile and level for a frame size.
// Frames of 1080p and above use level 4, smaller ones level 3.1.
func (c VideoCodec) ProfileLevel(width, height int) (profile, level int) {
	large := width*height >= fullHDPixelThreshold
	switch c {
	case VideoCodecH264:
		if large {
			return avcProfileHigh, avcLevel4
		}
		return avcProfileHigh, avcLevel31
	case VideoCodecH265:
		if large {
			return hevcProfileMain, hevcMainTierLevel4
		}
		return hevcProfileMain, hevcMainTierLevel31
	default:
		return 0, 0
	}
}

// AudioCodec identifies the audio codec type.
type AudioCodec int

const (
	AudioCodecUnknown AudioCodec = iota
	AudioCodecAAC
)

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecAAC:
		return "AAC"
	default:
		return "Unknown"
	}
}

// MimeType returns the MediaCodec MIME type for this codec.
func (c AudioCodec) MimeType() string {
	switch c {
	case AudioCodecAAC:
		return "audio/mp4a-latm"
	default:
		return ""
	}
}
