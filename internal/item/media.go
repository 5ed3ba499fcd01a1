package item

import "bytes"

// MediaKind is the closed set of thumbnail dispatch classes. It is decided
// once per item and passed explicitly through the generator.
type MediaKind string

const (
	// MediaDirectory is a folder.
	MediaDirectory MediaKind = "directory"
	// MediaImage is a still image.
	MediaImage MediaKind = "image"
	// MediaAudio is an audio file that may carry embedded artwork.
	MediaAudio MediaKind = "audio"
	// MediaVideo is a video file.
	MediaVideo MediaKind = "video"
	// MediaOther is anything we cannot thumbnail.
	MediaOther MediaKind = "other"
)

// AllMediaKinds lists every MediaKind, for metric pre-population.
var AllMediaKinds = []MediaKind{MediaDirectory, MediaImage, MediaAudio, MediaVideo, MediaOther}

// ImageExtensions maps file extensions to whether they are supported image formats.
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".tiff": true,
	".tif":  true,
	".heic": true,
	".heif": true,
	".avif": true,
}

// VideoExtensions maps file extensions to whether they are supported video formats.
var VideoExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".avi":  true,
	".mov":  true,
	".wmv":  true,
	".flv":  true,
	".webm": true,
	".m4v":  true,
	".mpeg": true,
	".mpg":  true,
	".3gp":  true,
	".ts":   true,
}

// AudioExtensions maps file extensions to whether they are supported audio formats.
var AudioExtensions = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".m4b":  true,
	".aac":  true,
	".flac": true,
	".ogg":  true,
	".oga":  true,
	".opus": true,
	".wav":  true,
	".aiff": true,
	".aif":  true,
	".wma":  true,
}

// Classify decides the MediaKind from the Ref alone, without touching the
// file's bytes. Files with unknown extensions return MediaOther; callers
// that know the bytes are local may refine that with SniffHeader.
func Classify(ref Ref) MediaKind {
	if ref.IsDir() {
		return MediaDirectory
	}
	ext := ref.Ext()
	switch {
	case ImageExtensions[ext]:
		return MediaImage
	case VideoExtensions[ext]:
		return MediaVideo
	case AudioExtensions[ext]:
		return MediaAudio
	default:
		return MediaOther
	}
}

// SniffHeaderLen is the number of leading bytes SniffHeader looks at.
const SniffHeaderLen = 32

// SniffHeader classifies a file by its magic bytes.
func SniffHeader(header []byte) MediaKind {
	switch {
	case len(header) >= 3 && header[0] == 0xFF && header[1] == 0xD8 && header[2] == 0xFF:
		return MediaImage // jpeg
	case len(header) >= 8 && bytes.Equal(header[:8], []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return MediaImage
	case len(header) >= 4 && string(header[:4]) == "GIF8":
		return MediaImage
	case len(header) >= 12 && string(header[:4]) == "RIFF" && string(header[8:12]) == "WEBP":
		return MediaImage
	case len(header) >= 12 && string(header[:4]) == "RIFF" && string(header[8:12]) == "WAVE":
		return MediaAudio
	case len(header) >= 12 && string(header[:4]) == "RIFF" && string(header[8:12]) == "AVI ":
		return MediaVideo
	case len(header) >= 2 && header[0] == 'B' && header[1] == 'M':
		return MediaImage
	case len(header) >= 4 && (bytes.Equal(header[:4], []byte{'I', 'I', 0x2A, 0x00}) ||
		bytes.Equal(header[:4], []byte{'M', 'M', 0x00, 0x2A})):
		return MediaImage // tiff
	case len(header) >= 3 && string(header[:3]) == "ID3":
		return MediaAudio
	case len(header) >= 2 && header[0] == 0xFF && header[1]&0xE0 == 0xE0:
		return MediaAudio // mpeg audio frame sync
	case len(header) >= 4 && string(header[:4]) == "fLaC":
		return MediaAudio
	case len(header) >= 4 && string(header[:4]) == "OggS":
		return MediaAudio
	case len(header) >= 4 && bytes.Equal(header[:4], []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return MediaVideo // matroska / webm
	case len(header) >= 12 && string(header[4:8]) == "ftyp":
		return classifyISOBrand(string(header[8:12]))
	}
	return MediaOther
}

func classifyISOBrand(brand string) MediaKind {
	switch brand {
	case "heic", "heix", "hevc", "hevx", "mif1", "msf1", "avif", "avis":
		return MediaImage
	case "M4A ", "M4B ", "M4P ":
		return MediaAudio
	default:
		return MediaVideo
	}
}
