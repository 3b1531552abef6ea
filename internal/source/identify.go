package source

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"

	"github.com/eponine0805/voice-app/internal/audio"
)

// Container describes a recognized audio container.
type Container struct {
	Extension   string // with leading dot
	ContentType string
}

var (
	ContainerWAV     = Container{Extension: ".wav", ContentType: audio.MediaTypeWAV}
	ContainerWebM    = Container{Extension: ".webm", ContentType: "audio/webm"}
	ContainerUnknown = Container{Extension: ".bin", ContentType: "application/octet-stream"}
)

var ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}

// Identify sniffs the container of an uploaded recording. Browser
// recordings (WebM) and WAV are recognized by magic bytes; everything else
// is left to tag.Identify.
func Identify(data []byte) Container {
	switch {
	case audio.IsWAV(data):
		return ContainerWAV
	case bytes.HasPrefix(data, ebmlMagic):
		return ContainerWebM
	}
	return identifyTagged(bytes.NewReader(data))
}

func identifyTagged(r io.ReadSeeker) Container {
	_, fileType, err := tag.Identify(r)
	if err != nil || fileType == tag.UnknownFileType {
		return ContainerUnknown
	}
	return Container{
		Extension:   extensionFromFileType(fileType),
		ContentType: contentTypeFromFileType(fileType),
	}
}

func extensionFromFileType(ft tag.FileType) string {
	switch ft {
	case tag.FLAC:
		return ".flac"
	case tag.MP3:
		return ".mp3"
	case tag.OGG:
		return ".ogg"
	case tag.M4A, tag.M4B, tag.M4P, tag.ALAC:
		return ".m4a"
	case tag.DSF:
		return ".dsf"
	default:
		return ContainerUnknown.Extension
	}
}

func contentTypeFromFileType(ft tag.FileType) string {
	switch ft {
	case tag.FLAC:
		return "audio/flac"
	case tag.MP3:
		return "audio/mpeg"
	case tag.OGG:
		return "audio/ogg"
	case tag.M4A, tag.M4B, tag.M4P, tag.ALAC:
		return "audio/mp4"
	case tag.DSF:
		return "audio/dsd"
	default:
		return ContainerUnknown.ContentType
	}
}

// ContentTypeFromExtension guesses a content type from a file name.
func ContentTypeFromExtension(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav":
		return ContainerWAV.ContentType
	case ".webm":
		return ContainerWebM.ContentType
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".m4a", ".mp4", ".aac":
		return "audio/mp4"
	default:
		return ContainerUnknown.ContentType
	}
}
