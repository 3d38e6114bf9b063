package preview

import (
	"fmt"
	"slices"
)

// FileType is a content category of a previewed file.
type FileType string

const (
	FileTypeImage   FileType = "image"
	FileTypeVideo   FileType = "video"
	FileTypePDF     FileType = "pdf"
	FileTypeUnknown FileType = "unknown"
)

var fileTypes = []FileType{FileTypeImage, FileTypeVideo, FileTypePDF, FileTypeUnknown}

var (
	imageExts = []string{"jpg", "jpeg", "png", "gif", "webp"}
	videoExts = []string{"mp4", "webm", "ogg"}
	pdfExts   = []string{"pdf"}
)

// FileTypeByExt classifies a lower-cased extension without the leading dot
// ("png", not ".png"). It returns [FileTypeUnknown] for everything else.
func FileTypeByExt(ext string) FileType {
	switch {
	case slices.Contains(imageExts, ext):
		return FileTypeImage
	case slices.Contains(videoExts, ext):
		return FileTypeVideo
	case slices.Contains(pdfExts, ext):
		return FileTypePDF
	default:
		return FileTypeUnknown
	}
}

func (t FileType) MarshalText() (text []byte, err error) {
	return []byte(t), nil
}

func (t *FileType) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*t = ""
		return nil
	}
	if !slices.Contains(fileTypes, FileType(text)) {
		return fmt.Errorf("valid values: %v", fileTypes)
	}
	*t = FileType(text)
	return nil
}
