// Package files provides the client for the external file-storage service.
// Media attachments extracted from raw messages are uploaded here and
// referenced by id from canonical messages.
package files

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rgranatodutra/wwebjs-api/errors"
)

// Visibility controls who may fetch an uploaded file.
type Visibility string

// File visibility levels.
const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// UploadRequest describes one file upload.
type UploadRequest struct {
	Buffer     []byte
	FileName   string
	MimeType   string
	Visibility Visibility
	Instance   string
}

// UploadedFile is the file-storage service's record of an uploaded file.
type UploadedFile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// Uploader is the narrow contract the content mapper consumes.
type Uploader interface {
	Upload(ctx context.Context, req UploadRequest) (*UploadedFile, error)
}

// Client is an HTTP client for the file-storage service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client for the service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

var _ Uploader = (*Client)(nil)

// Upload sends the file as a multipart form and returns the stored record.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (*UploadedFile, error) {
	if len(req.Buffer) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "files", "Upload", "empty buffer")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", req.FileName)
	if err != nil {
		return nil, errors.Wrap(err, "files", "Upload", "building multipart form")
	}
	if _, err := part.Write(req.Buffer); err != nil {
		return nil, errors.Wrap(err, "files", "Upload", "writing file part")
	}

	fields := map[string]string{
		"file_name": req.FileName,
		"mime_type": req.MimeType,
		"dir_type":  string(req.Visibility),
		"instance":  req.Instance,
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, errors.Wrap(err, "files", "Upload", "writing form field "+name)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, "files", "Upload", "closing multipart form")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/files", &body)
	if err != nil {
		return nil, errors.Wrap(err, "files", "Upload", "building request")
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.WrapTransient(err, "files", "Upload", "posting file")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.WrapTransient(
			fmt.Errorf("file service returned %d: %s", resp.StatusCode, payload),
			"files", "Upload", "posting file")
	}

	var uploaded UploadedFile
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return nil, errors.Wrap(err, "files", "Upload", "decoding response")
	}
	if uploaded.ID == "" {
		return nil, errors.Wrap(errors.New("response missing file id"), "files", "Upload", "validating response")
	}

	return &uploaded, nil
}
