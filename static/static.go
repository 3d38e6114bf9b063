// Package static provides access to default images: a placeholder shown before
// the file type is resolved, and an error image for unknown file types.
package static

import (
	"embed"
	"io/fs"
)

const (
	PlaceholderImage = "placeholder.svg"
	ErrorImage       = "error.svg"
)

//go:embed images
var imagesFS embed.FS

func NewImagesFS(readFromDisk bool) fs.FS {
	return newFS(imagesFS, "images", readFromDisk)
}
