package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ShoshinNikita/filepreview/preview"
)

const userAgent = "filepreview"

// HTTPTransport is the default [preview.Transport].
type HTTPTransport struct {
	httpClient *http.Client
}

var _ preview.Transport = (*HTTPTransport)(nil)

func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewHTTPTransportWithClient is useful when requests must go through a preconfigured client
// (proxies, custom TLS, test servers).
func NewHTTPTransportWithClient(client *http.Client) *HTTPTransport {
	return &HTTPTransport{
		httpClient: client,
	}
}

// Get makes a GET request. All errors wrap [preview.ErrTransport], non-2xx responses
// are returned as [*preview.TransportError].
func (t *HTTPTransport) Get(ctx context.Context, rawURL string) (io.ReadCloser, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: couldn't prepare request: %w", preview.ErrTransport, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: request failed: %w", preview.ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()

		bodyPrefix := make([]byte, 50)
		n, _ := io.ReadFull(resp.Body, bodyPrefix)
		bodyPrefix = bodyPrefix[:n]

		return nil, nil, &preview.TransportError{
			StatusCode: resp.StatusCode,
			BodyPrefix: string(bodyPrefix),
		}
	}

	return resp.Body, resp.Header, nil
}
