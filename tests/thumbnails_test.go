package tests

import (
	"context"
	"image/png"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestAPI_Thumbnail checks that thumbnails are rendered with MuPDF.
func TestAPI_Thumbnail(t *testing.T) {
	startTestPreview()

	for _, tt := range []struct {
		clarity    string
		wantWidth  int
		wantHeight int
	}{
		{clarity: "", wantWidth: 1000, wantHeight: 1294},
		{clarity: "800", wantWidth: 800, wantHeight: 1035},
		{clarity: "306", wantWidth: 306, wantHeight: 396},
	} {
		t.Run(tt.clarity, func(t *testing.T) {
			r := require.New(t)

			query := url.Values{"source": {"/files/doc.pdf"}}
			if tt.clarity != "" {
				query.Set("clarity", tt.clarity)
			}

			req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, previewAPIAddr+"/api/thumbnail?"+query.Encode(), nil)
			r.NoError(err)
			resp, err := http.DefaultClient.Do(req)
			r.NoError(err)
			defer resp.Body.Close()

			r.Equal(http.StatusOK, resp.StatusCode)
			r.Equal("image/png", resp.Header.Get("Content-Type"))

			img, err := png.Decode(resp.Body)
			r.NoError(err)
			r.Equal(tt.wantWidth, img.Bounds().Dx())
			r.Equal(tt.wantHeight, img.Bounds().Dy())
		})
	}

	t.Run("truncated", func(t *testing.T) {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, previewAPIAddr+"/api/thumbnail?source=/files/truncated", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})
}
