package thumbnails

import (
	"context"
	"errors"

	"github.com/ShoshinNikita/filepreview/preview"
)

var ErrNoopThumbnailer = errors.New("noop thumbnailer")

// NoopThumbnailer is used when thumbnail generation is disabled.
type NoopThumbnailer struct{}

func NewNoopThumbnailer() *NoopThumbnailer {
	return &NoopThumbnailer{}
}

func (NoopThumbnailer) Generate(context.Context, preview.Source, preview.Transport, int) (Thumbnail, error) {
	return Thumbnail{}, ErrNoopThumbnailer
}
