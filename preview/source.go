package preview

import (
	"fmt"
	"mime"
	"strings"

	"github.com/ShoshinNikita/filepreview/pkg/misc"
)

// Blob is an in-memory file. It usually comes from an upload and has no accessible
// extension, only a declared media type.
type Blob struct {
	Name      string
	MediaType string
	Data      []byte
}

// Subtype returns the lower-cased part of the declared media type after "/" without
// parameters: "png" for "image/png", "pdf" for "application/pdf; qs=1". It returns
// an empty string if the media type has no "/".
func (b *Blob) Subtype() string {
	mediaType := b.MediaType
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	} else if i := strings.IndexByte(mediaType, ';'); i != -1 {
		mediaType = mediaType[:i]
	}

	_, subtype, ok := strings.Cut(mediaType, "/")
	if !ok {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(subtype))
}

// Source describes what should be previewed: either a URL (possibly relative) or
// an in-memory [Blob]. The zero value is an empty URL source.
type Source struct {
	url  string
	blob *Blob
}

func URLSource(ref string) Source {
	return Source{url: ref}
}

func BlobSource(blob *Blob) Source {
	return Source{blob: blob}
}

func (s Source) IsBlob() bool {
	return s.blob != nil
}

// URL returns the string reference. It is empty for blob sources.
func (s Source) URL() string {
	return s.url
}

// Blob returns the in-memory file. It is nil for URL sources.
func (s Source) Blob() *Blob {
	return s.blob
}

// IsZero reports whether the source doesn't point to anything.
func (s Source) IsZero() bool {
	return s.blob == nil && s.url == ""
}

// Key returns the identity of the source. Two blob sources are equal only if they
// point to the same [Blob].
func (s Source) Key() string {
	if s.blob != nil {
		return fmt.Sprintf("blob:%p", s.blob)
	}
	return "url:" + s.url
}

func (s Source) String() string {
	if s.blob != nil {
		return fmt.Sprintf("blob %q (%s, %d bytes)", s.blob.Name, s.blob.MediaType, len(s.blob.Data))
	}
	// Sources can be very long, for example, data urls.
	return fmt.Sprintf("%q", misc.Truncate(s.url, 200))
}
