package resolver

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/ShoshinNikita/filepreview/pkg/metrics"
	"github.com/ShoshinNikita/filepreview/pkg/misc"
	"github.com/ShoshinNikita/filepreview/pkg/rlog"
	"github.com/ShoshinNikita/filepreview/preview"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/text/unicode/norm"
)

// Resolution methods, used as metric labels.
const (
	methodHint      = "hint"
	methodMediaType = "media_type"
	methodExt       = "extension"
	methodProbe     = "probe"
	methodFallback  = "fallback"
)

// Resolver detects the [preview.FileType] of a source.
type Resolver struct {
	baseURL   *url.URL
	transport preview.Transport
}

// New returns a new [Resolver]. baseURL is used to resolve relative references and can be nil.
// defaultTransport is used for content-type probes when the caller doesn't pass its own transport.
func New(baseURL *url.URL, defaultTransport preview.Transport) *Resolver {
	if baseURL != nil {
		base := *baseURL
		// Without trailing slash the last path element is replaced during resolution.
		base.Path = misc.EnsureSuffix(base.Path, "/")
		base.RawPath = ""
		baseURL = &base
	}
	return &Resolver{
		baseURL:   baseURL,
		transport: defaultTransport,
	}
}

// Resolve returns the file type of the source. It never fails: all faults are logged, and
// [preview.FileTypeUnknown] is returned. The checks are done in the following order:
//
//  1. non-empty hint is returned as-is
//  2. blobs are classified by the subtype of their declared media type
//  3. urls are classified by the extension of the last path element
//  4. otherwise, the url is requested, and the file type is detected by Content-Type header
//
// transport can be nil.
func (r *Resolver) Resolve(ctx context.Context, hint preview.FileType, src preview.Source, transport preview.Transport) preview.FileType {
	fileType, method, err := r.resolve(ctx, hint, src, transport)
	if err != nil {
		rlog.Warnf("couldn't resolve file type of %s: %s", src, err)

		fileType = preview.FileTypeUnknown
		method = methodFallback
	}

	metrics.ResolverResolved.With(prometheus.Labels{
		"type":   string(fileType),
		"method": method,
	}).Inc()

	rlog.Debugf("file type of %s is %q (%s)", src, fileType, method)

	return fileType
}

func (r *Resolver) resolve(ctx context.Context, hint preview.FileType, src preview.Source, transport preview.Transport) (preview.FileType, string, error) {
	if hint != "" {
		return hint, methodHint, nil
	}

	if src.IsBlob() {
		subtype := src.Blob().Subtype()
		fileType := preview.FileTypeByExt(subtype)
		if fileType == preview.FileTypeUnknown {
			return "", "", fmt.Errorf("%w: media type %q", preview.ErrUnclassified, src.Blob().MediaType)
		}
		return fileType, methodMediaType, nil
	}

	u, err := r.NormalizeURL(src.URL())
	if err != nil {
		return "", "", err
	}

	if fileType := preview.FileTypeByExt(GetExt(u.Path)); fileType != preview.FileTypeUnknown {
		return fileType, methodExt, nil
	}

	if transport == nil {
		transport = r.transport
	}
	if transport == nil {
		return "", "", fmt.Errorf("%w: no extension and no transport to probe %q", preview.ErrUnclassified, u)
	}

	fileType, err := probe(ctx, transport, u.String())
	if err != nil {
		return "", "", err
	}
	return fileType, methodProbe, nil
}

// NormalizeURL parses the reference and resolves it against the base url if it is relative.
func (r *Resolver) NormalizeURL(ref string) (*url.URL, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: empty url", preview.ErrUnclassified)
	}

	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if !u.IsAbs() && r.baseURL != nil {
		u = r.baseURL.ResolveReference(u)
	}
	return u, nil
}

// GetExt returns the lower-cased extension of the last path element without leading dot
// ("pdf" for "/docs/Report.PDF"). It returns an empty string if there is no dot.
func GetExt(urlPath string) string {
	ext := path.Ext(urlPath)
	if ext == "" {
		return ""
	}
	// Fold full-width and other compatibility characters, so "ｐｄｆ" becomes "pdf".
	ext = norm.NFKC.String(ext[1:])
	return strings.ToLower(ext)
}

// probe requests the file and detects its type by Content-Type header.
// The body is not read.
func probe(ctx context.Context, transport preview.Transport, rawURL string) (preview.FileType, error) {
	now := time.Now()
	defer func() {
		metrics.ResolverProbeDuration.Observe(time.Since(now).Seconds())
	}()

	body, header, err := transport.Get(ctx, rawURL)
	if err != nil {
		return "", fmt.Errorf("couldn't probe %q: %w", rawURL, err)
	}
	if body != nil {
		body.Close()
	}

	contentType := header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}

	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return preview.FileTypeImage, nil
	case strings.HasPrefix(mediaType, "video/"):
		return preview.FileTypeVideo, nil
	case mediaType == "application/pdf":
		return preview.FileTypePDF, nil
	default:
		return "", fmt.Errorf("%w: content type %q", preview.ErrUnclassified, contentType)
	}
}
