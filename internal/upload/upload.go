// Package upload transmits the release artifact to the project hosting
// service.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-retryablehttp"
)

// Request carries everything the hosting endpoint needs alongside the
// artifact itself.
type Request struct {
	Path     string
	Project  string
	Username string
	Password string
	Summary  string
	Labels   []string
}

// Uploader submits an artifact with its metadata. Implementations fail
// on any non-success response; the pipeline never retries.
type Uploader interface {
	Upload(ctx context.Context, req Request) error
}

// Error indicates the hosting service rejected the upload.
type Error struct {
	// Status is the HTTP status line, when the request got that far.
	Status string

	// Err is the underlying transport error, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upload failed: %v", e.Err)
	}
	return fmt.Sprintf("upload rejected: %s", e.Status)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPUploader posts the artifact as a multipart form to
// https://<project>.<host>/files with basic auth.
type HTTPUploader struct {
	// Host is the hosting service domain the project name is prefixed
	// onto.
	Host string

	// BaseURL overrides the derived https://<project>.<host>/files
	// endpoint entirely. Used by tests.
	BaseURL string

	client *retryablehttp.Client
}

// NewHTTPUploader returns an uploader for the given hosting domain.
//
// The client is configured with RetryMax 0: one failed upload aborts the
// release, and the operator re-runs by hand. No request timeout is set;
// large artifacts on slow links take as long as they take.
func NewHTTPUploader(host string, log *slog.Logger) *HTTPUploader {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.Logger = leveledLogger{log}
	return &HTTPUploader{Host: host, client: client}
}

// Upload submits the artifact. Any response outside the 2xx range is an
// *Error carrying the status line.
func (u *HTTPUploader) Upload(ctx context.Context, req Request) error {
	endpoint := u.BaseURL
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.%s/files", req.Project, u.Host)
	}

	body, contentType, err := encodeForm(req)
	if err != nil {
		return &Error{Err: err}
	}

	hreq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return &Error{Err: err}
	}
	hreq.Header.Set("Content-Type", contentType)
	hreq.SetBasicAuth(req.Username, req.Password)

	resp, err := u.client.Do(hreq)
	if err != nil {
		return &Error{Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Status: resp.Status}
	}
	return nil
}

// encodeForm builds the multipart body: the summary, one label field per
// label, and the artifact under the filename field.
func encodeForm(req Request) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	if err := w.WriteField("summary", req.Summary); err != nil {
		return nil, "", err
	}
	for _, label := range req.Labels {
		if err := w.WriteField("label", label); err != nil {
			return nil, "", err
		}
	}

	part, err := w.CreateFormFile("filename", filepath.Base(req.Path))
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(req.Path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}
