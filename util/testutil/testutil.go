// Package testutil contains helpers shared by tests of different packages.
package testutil

import (
	"bytes"
	"fmt"
)

// PDF builds a valid one-page PDF document with the passed page size in points.
// The page is white with a blue 50x50 square in the bottom-left corner (at 10,10).
func PDF(width, height float64) []byte {
	const content = "0 0 1 rg\n10 10 50 50 re\nf\n"

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %g %g] /Contents 4 0 R /Resources << >> >>", width, height),
		fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", len(content), content),
	}

	var (
		buf     bytes.Buffer
		offsets = make([]int, 0, len(objects))
	)
	buf.WriteString("%PDF-1.4\n")
	for i, obj := range objects {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	// Every xref entry must be exactly 20 bytes long.
	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, offset := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offset)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xrefOffset)

	return buf.Bytes()
}

// PaddedPDF returns a valid PDF followed by n NUL bytes, like files stored in fixed-size blocks.
func PaddedPDF(n int) []byte {
	return append(PDF(612, 792), make([]byte, n)...)
}

// TruncatedPDF returns the first half of a valid PDF.
func TruncatedPDF() []byte {
	data := PDF(612, 792)
	return data[:len(data)/2]
}
