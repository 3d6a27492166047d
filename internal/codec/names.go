package codec

import (
	"strings"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
)

// Canonical codec names used across the pipeline.
const (
	VideoH264 = "h264"
	VideoH265 = "h265"

	AudioAAC  = "aac"
	AudioAC3  = "ac3"
	AudioEAC3 = "eac3"
	AudioMP3  = "mp3"
	AudioOpus = "opus"
)

// Normalize maps common codec aliases to their canonical name. Unknown
// names are returned lowercased.
func Normalize(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "avc", "avc1", "h.264", "x264":
		return VideoH264
	case "hevc", "hev1", "hvc1", "h.265", "x265":
		return VideoH265
	case "mp4a", "aac-lc":
		return AudioAAC
	case "ac-3":
		return AudioAC3
	case "ec-3", "ec3", "ddp":
		return AudioEAC3
	case "mpga", "mp2", "mp3":
		return AudioMP3
	default:
		return strings.ToLower(strings.TrimSpace(name))
	}
}

// IsRandomAccess reports whether an access unit for the given video codec
// starts a decodable point (IDR / IRAP).
func IsRandomAccess(codecName string, au [][]byte) bool {
	switch codecName {
	case VideoH265:
		return h265.IsRandomAccess(au)
	default:
		return h264.IsRandomAccess(au)
	}
}
