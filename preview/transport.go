package preview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	// ErrTransport is wrapped by all network faults: the resource is unreachable or
	// the response can't be read.
	ErrTransport = errors.New("transport fault")
	// ErrParse means the document is malformed or truncated.
	ErrParse = errors.New("couldn't parse document")
	// ErrRender means the document was parsed, but rasterization failed.
	ErrRender = errors.New("couldn't render page")
	// ErrUnclassified means no rule matched the source.
	ErrUnclassified = errors.New("unclassified source")
)

// Transport abstracts the network. The only capability the preview needs is
// a binary GET returning the body and the response headers.
//
// The caller must close the returned body.
type Transport interface {
	Get(ctx context.Context, rawURL string) (body io.ReadCloser, header http.Header, err error)
}

// TransportFunc is an adapter to allow the use of ordinary functions as [Transport].
type TransportFunc func(ctx context.Context, rawURL string) (io.ReadCloser, http.Header, error)

func (fn TransportFunc) Get(ctx context.Context, rawURL string) (io.ReadCloser, http.Header, error) {
	return fn(ctx, rawURL)
}

// TransportError is returned for non-2xx responses.
type TransportError struct {
	StatusCode int
	BodyPrefix string
}

func (err *TransportError) Error() string {
	return fmt.Sprintf("unexpected response: status code: %d, body prefix: %q", err.StatusCode, err.BodyPrefix)
}

func (*TransportError) Is(target error) bool {
	return target == ErrTransport
}

func IsNotFoundError(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr) && transportErr.StatusCode == http.StatusNotFound
}
