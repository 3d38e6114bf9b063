package thumbnails

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"net/http"
	"strings"
	"testing"

	"github.com/ShoshinNikita/filepreview/preview"
	"github.com/ShoshinNikita/filepreview/util/testutil"
	"github.com/stretchr/testify/require"
)

type rasterizerStub struct {
	width, height float64
	pages         int
	// delta is added to both sides of rendered images to emulate different rounding.
	delta int
	// truncate makes PageSize return whole points, like MuPDF does.
	truncate  bool
	openErr   error
	renderErr error

	closed int
}

func (s *rasterizerStub) Open([]byte) (Document, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return documentStub{s}, nil
}

type documentStub struct {
	*rasterizerStub
}

func (d documentStub) NumPage() int {
	return d.pages
}

func (d documentStub) PageSize(int) (float64, float64, error) {
	if d.truncate {
		return math.Trunc(d.width), math.Trunc(d.height), nil
	}
	return d.width, d.height, nil
}

func (d documentStub) Render(_ int, scale float64) (image.Image, error) {
	if d.renderErr != nil {
		return nil, d.renderErr
	}
	w := int(math.Ceil(d.width*scale)) + d.delta
	h := int(math.Ceil(d.height*scale)) + d.delta

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.White)
		}
	}
	return img, nil
}

func (d documentStub) Close() error {
	d.closed++
	return nil
}

func decodePNG(t *testing.T, data []byte) image.Image {
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestThumbnailer_RenderFirstPage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pdf := testutil.PDF(612, 792)

	t.Run("width and aspect ratio", func(t *testing.T) {
		r := require.New(t)

		stub := &rasterizerStub{width: 612, height: 792, pages: 3}
		thumbnailer := NewThumbnailer(Options{Rasterizer: stub})

		thumbnail, err := thumbnailer.RenderFirstPage(ctx, pdf, 800)
		r.NoError(err)
		r.Equal(800, thumbnail.Width)
		r.Equal(1035, thumbnail.Height)
		r.Equal(1, stub.closed)

		img := decodePNG(t, thumbnail.PNG)
		r.Equal(800, img.Bounds().Dx())
		r.Equal(1035, img.Bounds().Dy())
	})

	t.Run("rounding differences are fitted", func(t *testing.T) {
		r := require.New(t)

		stub := &rasterizerStub{width: 100, height: 50, pages: 1, delta: 1}
		thumbnailer := NewThumbnailer(Options{Rasterizer: stub})

		thumbnail, err := thumbnailer.RenderFirstPage(ctx, pdf, 300)
		r.NoError(err)

		img := decodePNG(t, thumbnail.PNG)
		r.Equal(300, img.Bounds().Dx())
		r.Equal(150, img.Bounds().Dy())
	})

	t.Run("fractional page size", func(t *testing.T) {
		r := require.New(t)

		for _, tt := range []struct {
			width, height float64
			target        int
		}{
			{595.9, 100.9, 800},
			{595.276, 841.89, 1000}, // A4
			{612.5, 792.5, 1000},
		} {
			stub := &rasterizerStub{width: tt.width, height: tt.height, pages: 1, truncate: true}
			thumbnailer := NewThumbnailer(Options{Rasterizer: stub})

			thumbnail, err := thumbnailer.RenderFirstPage(ctx, pdf, tt.target)
			r.NoError(err)

			wantHeight := float64(tt.target) * tt.height / tt.width
			r.Equal(tt.target, thumbnail.Width)
			r.InDelta(wantHeight, thumbnail.Height, 1, "page: %gx%g", tt.width, tt.height)

			img := decodePNG(t, thumbnail.PNG)
			r.Equal(image.Rect(0, 0, thumbnail.Width, thumbnail.Height), img.Bounds())
		}
	})

	t.Run("padded document", func(t *testing.T) {
		r := require.New(t)

		stub := &rasterizerStub{width: 612, height: 792, pages: 1}
		thumbnailer := NewThumbnailer(Options{Rasterizer: stub})

		padded := testutil.PaddedPDF(2048)
		padded = append(padded, "\r\n  \n"...)

		thumbnail, err := thumbnailer.RenderFirstPage(ctx, padded, 800)
		r.NoError(err)
		r.Equal(800, thumbnail.Width)
		r.Equal(1, stub.closed)
	})

	t.Run("width is clamped", func(t *testing.T) {
		r := require.New(t)

		stub := &rasterizerStub{width: 100, height: 100, pages: 1}
		thumbnailer := NewThumbnailer(Options{Rasterizer: stub, DefaultWidth: 200, MaxWidth: 500})

		thumbnail, err := thumbnailer.RenderFirstPage(ctx, pdf, 0)
		r.NoError(err)
		r.Equal(200, thumbnail.Width)

		thumbnail, err = thumbnailer.RenderFirstPage(ctx, pdf, -5)
		r.NoError(err)
		r.Equal(200, thumbnail.Width)

		thumbnail, err = thumbnailer.RenderFirstPage(ctx, pdf, 100000)
		r.NoError(err)
		r.Equal(500, thumbnail.Width)
		r.Equal(500, thumbnail.Height)
	})

	t.Run("parse errors", func(t *testing.T) {
		r := require.New(t)

		stub := &rasterizerStub{width: 100, height: 100, pages: 1}
		thumbnailer := NewThumbnailer(Options{Rasterizer: stub})

		for _, data := range [][]byte{
			nil,
			[]byte("hello world"),
			testutil.TruncatedPDF(),
			[]byte("%PDF-1.4\n" + strings.Repeat("garbage ", 1000)),
		} {
			_, err := thumbnailer.RenderFirstPage(ctx, data, 800)
			r.ErrorIs(err, preview.ErrParse)
		}
		r.Zero(stub.closed, "invalid documents must not reach the rasterizer")

		_, err := NewThumbnailer(Options{Rasterizer: &rasterizerStub{openErr: errors.New("broken xref")}}).
			RenderFirstPage(ctx, pdf, 800)
		r.ErrorIs(err, preview.ErrParse)

		_, err = NewThumbnailer(Options{Rasterizer: &rasterizerStub{width: 100, height: 100}}).
			RenderFirstPage(ctx, pdf, 800)
		r.ErrorIs(err, preview.ErrParse)

		_, err = NewThumbnailer(Options{Rasterizer: &rasterizerStub{pages: 1}}).
			RenderFirstPage(ctx, pdf, 800)
		r.ErrorIs(err, preview.ErrParse)
	})

	t.Run("render error", func(t *testing.T) {
		r := require.New(t)

		stub := &rasterizerStub{width: 100, height: 100, pages: 1, renderErr: errors.New("out of memory")}

		_, err := NewThumbnailer(Options{Rasterizer: stub}).RenderFirstPage(ctx, pdf, 800)
		r.ErrorIs(err, preview.ErrRender)
		r.NotErrorIs(err, preview.ErrParse)
		r.Equal(1, stub.closed)
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(ctx)
		cancel()

		stub := &rasterizerStub{width: 100, height: 100, pages: 1}
		_, err := NewThumbnailer(Options{Rasterizer: stub}).RenderFirstPage(ctx, pdf, 800)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestThumbnailer_LoadPDF(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pdf := testutil.PDF(100, 100)

	newTransport := func(body []byte, err error) (preview.Transport, *int) {
		var calls int
		return preview.TransportFunc(func(context.Context, string) (io.ReadCloser, http.Header, error) {
			calls++
			if err != nil {
				return nil, nil, err
			}
			return io.NopCloser(bytes.NewReader(body)), http.Header{}, nil
		}), &calls
	}

	t.Run("blob", func(t *testing.T) {
		r := require.New(t)

		transport, calls := newTransport(nil, errors.New("must not be called"))
		thumbnailer := NewThumbnailer(Options{Transport: transport})

		data, err := thumbnailer.LoadPDF(ctx, preview.BlobSource(&preview.Blob{Data: pdf}), nil)
		r.NoError(err)
		r.Equal(pdf, data)
		r.Zero(*calls)
	})

	t.Run("url", func(t *testing.T) {
		r := require.New(t)

		defaultTransport, defaultCalls := newTransport(nil, errors.New("must not be called"))
		transport, calls := newTransport(pdf, nil)
		thumbnailer := NewThumbnailer(Options{Transport: defaultTransport})

		data, err := thumbnailer.LoadPDF(ctx, preview.URLSource("https://example.com/doc"), transport)
		r.NoError(err)
		r.Equal(pdf, data)
		r.Equal(1, *calls)
		r.Zero(*defaultCalls)

		thumbnailer = NewThumbnailer(Options{Transport: transport})
		_, err = thumbnailer.LoadPDF(ctx, preview.URLSource("https://example.com/doc"), nil)
		r.NoError(err)
		r.Equal(2, *calls)
	})

	t.Run("transport error", func(t *testing.T) {
		r := require.New(t)

		transport, _ := newTransport(nil, &preview.TransportError{StatusCode: http.StatusNotFound})
		_, err := NewThumbnailer(Options{}).LoadPDF(ctx, preview.URLSource("https://example.com/doc"), transport)
		r.ErrorIs(err, preview.ErrTransport)
		r.True(preview.IsNotFoundError(err))

		_, err = NewThumbnailer(Options{}).LoadPDF(ctx, preview.URLSource("https://example.com/doc"), nil)
		r.ErrorIs(err, preview.ErrTransport)
	})

	t.Run("nil body", func(t *testing.T) {
		transport := preview.TransportFunc(func(context.Context, string) (io.ReadCloser, http.Header, error) {
			return nil, http.Header{}, nil
		})

		_, err := NewThumbnailer(Options{}).LoadPDF(ctx, preview.URLSource("https://example.com/doc"), transport)
		require.ErrorIs(t, err, preview.ErrTransport)
	})

	t.Run("too large", func(t *testing.T) {
		r := require.New(t)

		transport, _ := newTransport(pdf, nil)
		thumbnailer := NewThumbnailer(Options{MaxPDFSize: int64(len(pdf) - 1)})

		_, err := thumbnailer.LoadPDF(ctx, preview.URLSource("https://example.com/doc"), transport)
		r.ErrorIs(err, ErrPDFTooLarge)

		_, err = thumbnailer.LoadPDF(ctx, preview.BlobSource(&preview.Blob{Data: pdf}), nil)
		r.ErrorIs(err, ErrPDFTooLarge)

		thumbnailer = NewThumbnailer(Options{MaxPDFSize: int64(len(pdf))})
		_, err = thumbnailer.LoadPDF(ctx, preview.URLSource("https://example.com/doc"), transport)
		r.NoError(err)
	})
}

func TestThumbnailer_Generate(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	thumbnailer := NewThumbnailer(Options{
		Rasterizer: &rasterizerStub{width: 200, height: 100, pages: 1},
	})

	thumbnail, err := thumbnailer.Generate(context.Background(), preview.BlobSource(&preview.Blob{Data: testutil.PDF(200, 100)}), nil, 400)
	r.NoError(err)
	r.Equal(400, thumbnail.Width)
	r.Equal(200, thumbnail.Height)
	r.True(strings.HasPrefix(thumbnail.DataURL(), "data:image/png;base64,"))

	_, err = thumbnailer.Generate(context.Background(), preview.BlobSource(&preview.Blob{Data: []byte("not a pdf")}), nil, 400)
	r.ErrorIs(err, preview.ErrParse)

	_, err = NewNoopThumbnailer().Generate(context.Background(), preview.URLSource("https://example.com/a.pdf"), nil, 400)
	r.ErrorIs(err, ErrNoopThumbnailer)
}

func TestSurfaceSize(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		naturalWidth, naturalHeight float64
		target                      int
		wantWidth, wantHeight       int
	}{
		{612, 792, 800, 800, 1035},
		{612, 792, 1000, 1000, 1294},
		{842, 595, 1000, 1000, 707},
		{100, 1, 10, 10, 1},
		{100, 0.01, 10, 10, 1},
	} {
		w, h, scale := SurfaceSize(tt.naturalWidth, tt.naturalHeight, tt.target)
		require.Equal(t, tt.wantWidth, w)
		require.Equal(t, tt.wantHeight, h)
		require.InDelta(t, float64(tt.target)/tt.naturalWidth, scale, 1e-9)
	}
}

func TestFitzRasterizer(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	thumbnailer := NewThumbnailer(Options{Rasterizer: NewFitzRasterizer()})

	thumbnail, err := thumbnailer.RenderFirstPage(context.Background(), testutil.PDF(612, 792), 800)
	r.NoError(err)
	r.Equal(800, thumbnail.Width)
	r.Equal(1035, thumbnail.Height)

	img := decodePNG(t, thumbnail.PNG)
	r.Equal(image.Rect(0, 0, 800, 1035), img.Bounds())

	isBlue := func(c color.Color) bool {
		r, g, b, _ := c.RGBA()
		return b > 0xc000 && r < 0x4000 && g < 0x4000
	}
	isWhite := func(c color.Color) bool {
		r, g, b, _ := c.RGBA()
		return r > 0xf000 && g > 0xf000 && b > 0xf000
	}

	// The square is drawn at (10,10)-(60,60) in PDF points, the origin is in the bottom-left corner.
	scale := 800.0 / 612
	r.True(isBlue(img.At(int(35*scale), 1035-int(35*scale))))
	r.True(isWhite(img.At(400, 400)))
	r.True(isWhite(img.At(int(35*scale), 100)))

	// Truncated documents are rejected before MuPDF sees them.
	_, err = thumbnailer.RenderFirstPage(context.Background(), testutil.TruncatedPDF(), 800)
	r.ErrorIs(err, preview.ErrParse)

	// Padding after the end marker is fine.
	thumbnail, err = thumbnailer.RenderFirstPage(context.Background(), testutil.PaddedPDF(2048), 800)
	r.NoError(err)
	r.Equal(1035, thumbnail.Height)

	// MuPDF reports page sizes in whole points, the height must still follow the real MediaBox.
	thumbnail, err = thumbnailer.RenderFirstPage(context.Background(), testutil.PDF(595.9, 100.9), 800)
	r.NoError(err)
	r.Equal(800, thumbnail.Width)
	r.InDelta(800*100.9/595.9, thumbnail.Height, 1)
}
