package preview

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileTypeByExt(t *testing.T) {
	for ext, want := range map[string]FileType{
		"jpg":  FileTypeImage,
		"jpeg": FileTypeImage,
		"png":  FileTypeImage,
		"gif":  FileTypeImage,
		"webp": FileTypeImage,
		"mp4":  FileTypeVideo,
		"webm": FileTypeVideo,
		"ogg":  FileTypeVideo,
		"pdf":  FileTypePDF,
		//
		"":     FileTypeUnknown,
		"PNG":  FileTypeUnknown, // must be lower-cased by the caller
		".png": FileTypeUnknown,
		"heic": FileTypeUnknown,
		"txt":  FileTypeUnknown,
	} {
		require.Equal(t, want, FileTypeByExt(ext), "ext: %q", ext)
	}
}

func TestBlob_Subtype(t *testing.T) {
	for mediaType, want := range map[string]string{
		"image/png":                 "png",
		"video/MP4":                 "mp4",
		"application/pdf":           "pdf",
		"application/pdf; qs=0.001": "pdf",
		"text/plain; charset=utf-8": "plain",
		"video":                     "",
		"":                          "",
	} {
		blob := &Blob{MediaType: mediaType}
		require.Equal(t, want, blob.Subtype(), "media type: %q", mediaType)
	}
}

func TestSource(t *testing.T) {
	r := require.New(t)

	blob := &Blob{Name: "a.pdf", MediaType: "application/pdf"}

	r.True(Source{}.IsZero())
	r.False(URLSource("https://example.com").IsZero())
	r.False(BlobSource(blob).IsZero())

	r.True(BlobSource(blob).IsBlob())
	r.Same(blob, BlobSource(blob).Blob())
	r.Equal("", BlobSource(blob).URL())

	r.Equal(URLSource("/a.png").Key(), URLSource("/a.png").Key())
	r.NotEqual(URLSource("/a.png").Key(), URLSource("/b.png").Key())
	r.Equal(BlobSource(blob).Key(), BlobSource(blob).Key())

	// Same content, different blobs.
	blobCopy := *blob
	r.NotEqual(BlobSource(blob).Key(), BlobSource(&blobCopy).Key())

	r.Equal(`"/a.png"`, URLSource("/a.png").String())
	r.Equal(`blob "a.pdf" (application/pdf, 0 bytes)`, BlobSource(blob).String())
	r.Len(URLSource("data:"+strings.Repeat("a", 1000)).String(), 205)
}
