package thumbnails

import (
	"image"

	"github.com/gen2brain/go-fitz"
)

// pointsPerInch is the resolution of the PDF user space.
const pointsPerInch = 72

// FitzRasterizer renders documents with MuPDF.
type FitzRasterizer struct{}

func NewFitzRasterizer() *FitzRasterizer {
	return &FitzRasterizer{}
}

func (FitzRasterizer) Open(data []byte) (Document, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, err
	}
	return fitzDocument{doc: doc}, nil
}

type fitzDocument struct {
	doc *fitz.Document
}

func (d fitzDocument) NumPage() int {
	return d.doc.NumPage()
}

func (d fitzDocument) PageSize(page int) (width, height float64, err error) {
	// Bound returns the page box at 72 DPI, so pixels are equal to points.
	bounds, err := d.doc.Bound(page)
	if err != nil {
		return 0, 0, err
	}
	return float64(bounds.Dx()), float64(bounds.Dy()), nil
}

func (d fitzDocument) Render(page int, scale float64) (image.Image, error) {
	return d.doc.ImageDPI(page, pointsPerInch*scale)
}

func (d fitzDocument) Close() error {
	return d.doc.Close()
}
