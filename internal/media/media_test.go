package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/selimerdinc/VeloxCase/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageRefs(t *testing.T) {
	html := `<p><img src="/rest/api/3/attachment/1" alt="a"></p>` +
		`<img width="100" src='https://cdn.example.com/b.png'/>` +
		`<img src="/rest/api/3/attachment/1">`

	refs := ImageRefs(html)
	assert.Equal(t, []string{
		"/rest/api/3/attachment/1",
		"https://cdn.example.com/b.png",
		"/rest/api/3/attachment/1",
	}, refs)

	assert.Empty(t, ImageRefs("<p>no images</p>"))
}

func TestNeedsAuth(t *testing.T) {
	assert.True(t, NeedsAuth("https://acme.atlassian.net/image.png"))
	assert.True(t, NeedsAuth("/rest/api/3/attachment/content/1"))
	assert.True(t, NeedsAuth("/secure/attachment/1/shot.png"))
	assert.False(t, NeedsAuth("https://cdn.example.com/logo.png"))
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestFetch(t *testing.T) {
	imgData := pngBytes(t, 10, 10)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(imgData)
		case "/login":
			// Auth wall disguised as an image URL
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte("<html>please sign in</html>"))
		case "/authed.png":
			user, pass, ok := r.BasicAuth()
			if !ok || user != "qa@example.com" || pass != "token123" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "image/png")
			w.Write(imgData)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	d := NewDownloader(srv.URL, "qa@example.com", "token123")
	ctx := context.Background()

	assert.Equal(t, imgData, d.Fetch(ctx, srv.URL+"/ok.png", false))
	assert.Nil(t, d.Fetch(ctx, srv.URL+"/login", false), "HTML bodies are rejected")
	assert.Nil(t, d.Fetch(ctx, srv.URL+"/missing.png", false))

	// Relative URLs resolve against the tracker base and carry credentials
	assert.Equal(t, imgData, d.Fetch(ctx, "/authed.png", true))
	assert.Nil(t, d.Fetch(ctx, "/authed.png", false))
}

func TestFetchUnescapesAmpersands(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{1})
	}))
	defer srv.Close()

	d := NewDownloader(srv.URL, "", "")
	d.Fetch(context.Background(), srv.URL+"/img?a=1&amp;b=2", false)
	assert.Equal(t, "a=1&b=2", gotQuery)
}

func TestFetchAll(t *testing.T) {
	imgData := pngBytes(t, 10, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/gone") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(imgData)
	}))
	defer srv.Close()

	d := NewDownloader(srv.URL, "u", "t")
	items := d.FetchAll(context.Background(), []models.Attachment{
		{URL: srv.URL + "/a.png", Filename: "a.png"},
		{URL: srv.URL + "/gone.png", Filename: "gone.png"},
		{URL: srv.URL + "/b.png"},
	})

	require.Len(t, items, 2, "failed downloads are skipped")

	names := make(map[string]bool)
	for _, item := range items {
		names[item.Filename] = true
		assert.Equal(t, imgData, item.Data)
	}
	assert.True(t, names["a.png"])
	assert.True(t, names["image.jpg"], "missing filenames default")
	assert.False(t, names["gone.png"])

	assert.Nil(t, d.FetchAll(context.Background(), nil))
}

func decodeDataURIImage(t *testing.T, uri string) image.Image {
	t.Helper()
	require.True(t, strings.HasPrefix(uri, "data:image/jpeg;base64,"))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, "data:image/jpeg;base64,"))
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	return img
}

func TestToDataURIDownscalesWideImages(t *testing.T) {
	img := decodeDataURIImage(t, ToDataURI(pngBytes(t, 1000, 400)))
	assert.Equal(t, 800, img.Bounds().Dx())
	assert.Equal(t, 320, img.Bounds().Dy(), "aspect ratio preserved")
}

func TestToDataURIKeepsSmallImages(t *testing.T) {
	img := decodeDataURIImage(t, ToDataURI(pngBytes(t, 120, 90)))
	assert.Equal(t, 120, img.Bounds().Dx())
	assert.Equal(t, 90, img.Bounds().Dy())
}

func TestToDataURIRejectsGarbage(t *testing.T) {
	assert.Equal(t, "", ToDataURI(nil))
	assert.Equal(t, "", ToDataURI([]byte("definitely not an image")))
}
