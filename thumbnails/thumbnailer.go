package thumbnails

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"time"

	"github.com/ShoshinNikita/filepreview/pkg/metrics"
	"github.com/ShoshinNikita/filepreview/pkg/misc"
	"github.com/ShoshinNikita/filepreview/pkg/rlog"
	"github.com/ShoshinNikita/filepreview/preview"
	"github.com/disintegration/imaging"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultWidth      = preview.DefaultClarity
	DefaultMaxWidth   = preview.MaxClarity
	DefaultMaxPDFSize = 50 << 20 // 50 MiB
)

var ErrPDFTooLarge = errors.New("pdf is too large")

// Rasterizer parses PDF documents.
type Rasterizer interface {
	Open(data []byte) (Document, error)
}

// Document is a parsed PDF document. Pages are zero-indexed.
type Document interface {
	NumPage() int
	// PageSize returns the natural (unscaled) size of the page in PDF points.
	PageSize(page int) (width, height float64, err error)
	// Render rasterizes the page. The result size should be the natural size multiplied by scale,
	// however rasterizers are allowed to round it differently.
	Render(page int, scale float64) (image.Image, error)
	Close() error
}

// Options is the startup configuration of [Thumbnailer]. Zero values are replaced with defaults.
type Options struct {
	Rasterizer Rasterizer
	// Transport is used to download PDFs when the caller doesn't pass its own transport.
	Transport preview.Transport

	DefaultWidth int
	MaxWidth     int
	MaxPDFSize   int64
}

// Thumbnail is a rendered first page of a PDF document.
type Thumbnail struct {
	Width  int
	Height int
	PNG    []byte
}

// DataURL returns the thumbnail as a string that can be used as "src" of an image.
func (t Thumbnail) DataURL() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(t.PNG)
}

// Thumbnailer renders the first page of PDF documents.
type Thumbnailer struct {
	rasterizer Rasterizer
	transport  preview.Transport

	defaultWidth int
	maxWidth     int
	maxPDFSize   int64
}

func NewThumbnailer(opts Options) *Thumbnailer {
	t := &Thumbnailer{
		rasterizer:   opts.Rasterizer,
		transport:    opts.Transport,
		defaultWidth: opts.DefaultWidth,
		maxWidth:     opts.MaxWidth,
		maxPDFSize:   opts.MaxPDFSize,
	}
	if t.rasterizer == nil {
		t.rasterizer = NewFitzRasterizer()
	}
	if t.defaultWidth <= 0 {
		t.defaultWidth = DefaultWidth
	}
	if t.maxWidth <= 0 {
		t.maxWidth = DefaultMaxWidth
	}
	if t.maxPDFSize <= 0 {
		t.maxPDFSize = DefaultMaxPDFSize
	}
	return t
}

// Generate loads the PDF and renders its first page. Errors are logged and returned, so
// the caller can fall back to the original file.
func (t *Thumbnailer) Generate(ctx context.Context, src preview.Source, transport preview.Transport, targetWidth int) (Thumbnail, error) {
	now := time.Now()

	data, err := t.LoadPDF(ctx, src, transport)
	if err != nil {
		t.reportError(ctx, "fetch", src, err)
		return Thumbnail{}, err
	}
	metrics.ThumbnailsPDFSizes.Observe(float64(len(data)))

	thumbnail, err := t.RenderFirstPage(ctx, data, targetWidth)
	if err != nil {
		stage := "render"
		if errors.Is(err, preview.ErrParse) {
			stage = "parse"
		}
		t.reportError(ctx, stage, src, err)
		return Thumbnail{}, err
	}

	dur := time.Since(now)
	metrics.ThumbnailsRenderDuration.Observe(dur.Seconds())

	rlog.Debugf(
		"thumbnail for %s was generated in %s, pdf size: %s, thumbnail: %dx%d, %s",
		src, dur, misc.FormatFileSize(int64(len(data))),
		thumbnail.Width, thumbnail.Height, misc.FormatFileSize(int64(len(thumbnail.PNG))),
	)

	return thumbnail, nil
}

func (*Thumbnailer) reportError(ctx context.Context, stage string, src preview.Source, err error) {
	if ctx.Err() != nil {
		// Generation was canceled by the caller, nothing to report.
		rlog.Debugf("thumbnail generation for %s was canceled: %s", src, err)
		return
	}

	metrics.ThumbnailsErrors.With(prometheus.Labels{"stage": stage}).Inc()
	rlog.Errorf("couldn't generate thumbnail for %s: %s", src, err)
}

// LoadPDF returns the PDF content. Blobs are used as-is, urls are downloaded with the passed
// transport, or with the default one if transport is nil. The url must be absolute.
func (t *Thumbnailer) LoadPDF(ctx context.Context, src preview.Source, transport preview.Transport) ([]byte, error) {
	if src.IsBlob() {
		data := src.Blob().Data
		if int64(len(data)) > t.maxPDFSize {
			return nil, fmt.Errorf("%w: %s", ErrPDFTooLarge, misc.FormatFileSize(int64(len(data))))
		}
		return data, nil
	}

	if transport == nil {
		transport = t.transport
	}
	if transport == nil {
		return nil, fmt.Errorf("%w: no transport to download %q", preview.ErrTransport, src.URL())
	}

	body, _, err := transport.Get(ctx, src.URL())
	if err != nil {
		return nil, fmt.Errorf("couldn't download pdf: %w", err)
	}
	if body == nil {
		return nil, fmt.Errorf("%w: empty response body", preview.ErrTransport)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, t.maxPDFSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: couldn't read pdf: %w", preview.ErrTransport, err)
	}
	if int64(len(data)) > t.maxPDFSize {
		return nil, fmt.Errorf("%w: more than %s", ErrPDFTooLarge, misc.FormatFileSize(t.maxPDFSize))
	}
	return data, nil
}

// RenderFirstPage renders the first page of the PDF as a PNG image with the passed width.
// The height is calculated preserving the aspect ratio. If targetWidth is <= 0, the default
// width is used. Too large widths are capped.
//
// All parsing errors wrap [preview.ErrParse], all rendering errors wrap [preview.ErrRender].
func (t *Thumbnailer) RenderFirstPage(ctx context.Context, data []byte, targetWidth int) (Thumbnail, error) {
	if err := ctx.Err(); err != nil {
		return Thumbnail{}, err
	}
	if err := checkPDF(data); err != nil {
		return Thumbnail{}, fmt.Errorf("%w: %w", preview.ErrParse, err)
	}

	doc, err := t.rasterizer.Open(data)
	if err != nil {
		return Thumbnail{}, fmt.Errorf("%w: %w", preview.ErrParse, err)
	}
	defer func() {
		if err := doc.Close(); err != nil {
			rlog.Errorf("couldn't close pdf document: %s", err)
		}
	}()

	if doc.NumPage() < 1 {
		return Thumbnail{}, fmt.Errorf("%w: document has no pages", preview.ErrParse)
	}

	naturalWidth, naturalHeight, err := doc.PageSize(0)
	if err != nil {
		return Thumbnail{}, fmt.Errorf("%w: couldn't get page size: %w", preview.ErrParse, err)
	}
	if naturalWidth <= 0 || naturalHeight <= 0 {
		return Thumbnail{}, fmt.Errorf("%w: invalid page size %gx%g", preview.ErrParse, naturalWidth, naturalHeight)
	}

	width, height, scale := SurfaceSize(naturalWidth, naturalHeight, t.clampWidth(targetWidth))

	img, err := doc.Render(0, scale)
	if err != nil {
		return Thumbnail{}, fmt.Errorf("%w: %w", preview.ErrRender, err)
	}
	if err := ctx.Err(); err != nil {
		return Thumbnail{}, err
	}

	if b := img.Bounds(); b.Dx() != width || b.Dy() != height {
		if b.Dx() <= 0 || b.Dy() <= 0 {
			return Thumbnail{}, fmt.Errorf("%w: empty image %dx%d", preview.ErrRender, b.Dx(), b.Dy())
		}

		// Page sizes can be truncated to whole points (MuPDF does it). The rendered image covers
		// the real page box rounded up, so it narrows the natural size down.
		naturalWidth = max(naturalWidth, float64(b.Dx()-1)/scale)
		naturalHeight = max(naturalHeight, float64(b.Dy()-1)/scale)
		width, height, _ = SurfaceSize(naturalWidth, naturalHeight, width)

		img = imaging.Resize(img, width, height, imaging.Lanczos)
	}

	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, img, imaging.PNG); err != nil {
		return Thumbnail{}, fmt.Errorf("%w: couldn't encode png: %w", preview.ErrRender, err)
	}

	return Thumbnail{
		Width:  width,
		Height: height,
		PNG:    buf.Bytes(),
	}, nil
}

func (t *Thumbnailer) clampWidth(width int) int {
	switch {
	case width <= 0:
		return t.defaultWidth
	case width > t.maxWidth:
		return t.maxWidth
	default:
		return width
	}
}

// SurfaceSize calculates the size of the raster surface for the target width, preserving
// the aspect ratio of the natural page size. Both sides are at least 1px.
func SurfaceSize(naturalWidth, naturalHeight float64, targetWidth int) (width, height int, scale float64) {
	scale = float64(targetWidth) / naturalWidth

	width = max(1, int(math.Round(naturalWidth*scale)))
	height = max(1, int(math.Round(naturalHeight*scale)))
	return width, height, scale
}

// checkPDF performs cheap sanity checks before the document is passed to the rasterizer:
// the header must be present, and the file must not be truncated. Trailing whitespace
// and NUL padding after the end marker are allowed.
func checkPDF(data []byte) error {
	const window = 1024

	if len(data) == 0 {
		return errors.New("empty file")
	}

	head := data[:min(len(data), window)]
	if !bytes.Contains(head, []byte("%PDF-")) {
		return errors.New("missing %PDF header")
	}

	data = bytes.TrimRight(data, " \t\r\n\f\x00")
	tail := data[max(0, len(data)-window):]
	if !bytes.Contains(tail, []byte("%%EOF")) {
		return errors.New("missing %%EOF marker, file is probably truncated")
	}
	return nil
}
