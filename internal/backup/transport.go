// Package backup moves snapshot documents to and from the remote object
// store. It speaks the store's multipart upload protocol directly so the
// exact bytes produced by the snapshot codec are what lands remotely.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// TransportError reports a non-2xx response from the remote store. The body
// is truncated; it exists for diagnostics, not for parsing.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("backup %s: remote returned %d: %s", e.Op, e.StatusCode, e.Body)
}

const maxErrorBody = 512

// Client uploads and downloads snapshot files over HTTP. Credentials are not
// held by the client; the caller passes a bearer token on every call so token
// refresh stays outside the transport.
type Client struct {
	hc          *http.Client
	uploadURL   string
	downloadURL string
	fileName    string
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// NewClient builds a transport against the given endpoints. uploadURL
// receives multipart uploads; downloadURL/{id}?alt=media serves content.
func NewClient(uploadURL, downloadURL, fileName string, opts ...Option) *Client {
	c := &Client{
		hc:          &http.Client{Timeout: 60 * time.Second},
		uploadURL:   strings.TrimRight(uploadURL, "/"),
		downloadURL: strings.TrimRight(downloadURL, "/"),
		fileName:    fileName,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type uploadMetadata struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
}

type uploadResponse struct {
	ID string `json:"id"`
}

// Upload pushes one snapshot document as a multipart/related request: a JSON
// metadata part naming the file, then the document bytes as an octet stream.
// It returns the remote file id.
func (c *Client) Upload(ctx context.Context, token string, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	meta, err := json.Marshal(uploadMetadata{Name: c.fileName, MimeType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("marshal upload metadata: %w", err)
	}

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	part, err := mw.CreatePart(metaHeader)
	if err != nil {
		return "", fmt.Errorf("create metadata part: %w", err)
	}
	if _, err := part.Write(meta); err != nil {
		return "", fmt.Errorf("write metadata part: %w", err)
	}

	contentHeader := textproto.MIMEHeader{}
	contentHeader.Set("Content-Type", "application/octet-stream")
	part, err = mw.CreatePart(contentHeader)
	if err != nil {
		return "", fmt.Errorf("create content part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write content part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finish multipart body: %w", err)
	}

	url := c.uploadURL + "?uploadType=multipart"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", readTransportError("upload", resp)
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("upload response missing file id")
	}

	slog.InfoContext(ctx, "Snapshot uploaded", "file_id", out.ID, "bytes", len(data))
	return out.ID, nil
}

// Download fetches the content of a remote file byte-for-byte.
func (c *Client) Download(ctx context.Context, token, fileID string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s?alt=media", c.downloadURL, fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, readTransportError("download", resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read download body: %w", err)
	}

	slog.InfoContext(ctx, "Snapshot downloaded", "file_id", fileID, "bytes", len(data))
	return data, nil
}

func readTransportError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &TransportError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
