// Package media discovers, downloads and transcodes the images referenced
// by an issue. Download and decode failures are soft: a missing image never
// fails the task that wanted it.
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/selimerdinc/VeloxCase/internal/models"
)

const (
	// maxInlineWidth is the width images are downscaled to before inline
	// embedding
	maxInlineWidth = 800

	// jpegQuality is the re-encode quality for inline payloads
	jpegQuality = 70

	// downloadWorkers bounds concurrent attachment fetches per task
	downloadWorkers = 5
)

var imgSrcRe = regexp.MustCompile(`<img[^>]+src=["']([^"']+)["']`)

// ImageRefs returns the src of every <img> tag in document order.
// Duplicates are preserved.
func ImageRefs(htmlText string) []string {
	matches := imgSrcRe.FindAllStringSubmatch(htmlText, -1)
	refs := make([]string, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, m[1])
	}
	return refs
}

// NeedsAuth reports whether an image URL points back into the issue tracker
// and therefore needs authenticated download
func NeedsAuth(url string) bool {
	return strings.Contains(url, "atlassian") ||
		strings.Contains(url, "/rest/") ||
		strings.Contains(url, "/secure/")
}

// Downloader fetches images, optionally with the issue tracker's basic-auth
// credentials.
type Downloader struct {
	baseURL  string
	username string
	token    string
	client   *http.Client
}

// NewDownloader creates a downloader that resolves relative URLs against
// the issue tracker base URL
func NewDownloader(baseURL, username, token string) *Downloader {
	return &Downloader{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		token:    token,
		client:   &http.Client{Timeout: 20 * time.Second},
	}
}

// Fetch downloads one image. It resolves relative URLs against the tracker
// base, follows redirects, and rejects non-200 responses as well as HTML
// bodies (auth walls disguised as images). Any failure yields nil.
func (d *Downloader) Fetch(ctx context.Context, rawURL string, authenticated bool) []byte {
	u := strings.ReplaceAll(rawURL, "&amp;", "&")
	if strings.HasPrefix(u, "/") && !strings.HasPrefix(u, "http") {
		u = d.baseURL + u
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		log.Printf("image download failed for %s: %v", u, err)
		return nil
	}
	if authenticated {
		req.SetBasicAuth(d.username, d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		log.Printf("image download failed for %s: %v", u, err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("image download failed for %s: status %d", u, resp.StatusCode)
		return nil
	}
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/html") {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("image download failed for %s: %v", u, err)
		return nil
	}
	return data
}

// FetchAll downloads a task's image attachments with a bounded worker pool.
// Each result stays associated with its originating attachment filename;
// failed downloads are skipped. Order of the returned slice follows
// completion, not submission.
func (d *Downloader) FetchAll(ctx context.Context, attachments []models.Attachment) []models.MediaItem {
	if len(attachments) == 0 {
		return nil
	}

	attChan := make(chan models.Attachment, len(attachments))
	for _, att := range attachments {
		attChan <- att
	}
	close(attChan)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		items []models.MediaItem
	)

	workers := downloadWorkers
	if len(attachments) < workers {
		workers = len(attachments)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for att := range attChan {
				data := d.Fetch(ctx, att.URL, true)
				if data == nil {
					continue
				}
				filename := att.Filename
				if filename == "" {
					filename = "image.jpg"
				}
				mu.Lock()
				items = append(items, models.MediaItem{Data: data, Filename: filename})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return items
}

// ToDataURI transcodes raw image bytes into an inline-embeddable JPEG data
// URI: alpha and palette modes collapse to RGB, widths above 800px are
// downscaled proportionally with Lanczos resampling, and the result is
// re-encoded at quality 70. Decode failures yield an empty string.
func ToDataURI(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return ""
	}

	if img.Bounds().Dx() > maxInlineWidth {
		img = imaging.Resize(img, maxInlineWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return ""
	}

	return fmt.Sprintf("data:image/jpeg;base64,%s", base64.StdEncoding.EncodeToString(buf.Bytes()))
}
