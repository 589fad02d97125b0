// Package upload sends local files to an HTTP upload endpoint so they can
// be shared as attachment links.
package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxBytes is the largest file accepted for upload.
const DefaultMaxBytes int64 = 100 << 20

// ErrTooLarge is returned for files above the configured limit.
var ErrTooLarge = errors.New("upload: file too large")

// Uploader stores a local file and returns a URL for it.
type Uploader interface {
	Upload(ctx context.Context, path string) (url string, err error)
}

// Options configures an HTTPUploader.
type Options struct {
	URL        string
	MaxBytes   int64
	HTTPClient *http.Client
}

// HTTPUploader posts files as multipart/form-data (field "file") and
// expects a JSON body {"url": "..."} in response.
type HTTPUploader struct {
	url      string
	maxBytes int64
	client   *http.Client
}

// NewHTTPUploader creates an uploader for the given endpoint.
func NewHTTPUploader(opts Options) *HTTPUploader {
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &HTTPUploader{
		url:      strings.TrimSpace(opts.URL),
		maxBytes: maxBytes,
		client:   client,
	}
}

type response struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Upload streams the file at path to the endpoint.
func (u *HTTPUploader) Upload(ctx context.Context, path string) (string, error) {
	if u.url == "" {
		return "", errors.New("upload: no endpoint configured")
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("upload: %s is a directory", path)
	}
	if info.Size() > u.maxBytes {
		return "", fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, info.Size(), u.maxBytes)
	}
	mime, err := DetectMIME(path)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, filepath.Base(path), mime, f))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, pr)
	if err != nil {
		_ = pr.Close()
		return "", fmt.Errorf("upload: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		_ = pr.Close()
		return "", fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	var out response
	decErr := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if out.Error != "" {
			return "", fmt.Errorf("upload: server returned %d: %s", resp.StatusCode, out.Error)
		}
		return "", fmt.Errorf("upload: server returned %d", resp.StatusCode)
	}
	if decErr != nil {
		return "", fmt.Errorf("upload: decode response: %w", decErr)
	}
	if out.URL == "" {
		return "", errors.New("upload: response has no url")
	}
	return out.URL, nil
}

func writeForm(mw *multipart.Writer, name, mime string, r io.Reader) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", mime)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return mw.Close()
}

// DetectMIME sniffs the content type of the file at path.
func DetectMIME(path string) (string, error) {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("upload: detect type: %w", err)
	}
	return m.String(), nil
}

// IsMedia reports whether mime is an image, video or audio type. Media
// attachments carry their type as a subject hint so clients can preview them.
func IsMedia(mime string) bool {
	for _, p := range []string{"image/", "video/", "audio/"} {
		if strings.HasPrefix(mime, p) {
			return true
		}
	}
	return false
}
