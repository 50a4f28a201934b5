// Package client talks to the file store HTTP API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/imrenagi/go-file-store/store"
	"github.com/rs/zerolog/log"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server responded %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case store.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case store.ErrUnknownFileType:
		return e.StatusCode == http.StatusUnsupportedMediaType
	}
	return false
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Upload streams content to the server as a multipart body and returns the
// key the server assigned.
func (c *Client) Upload(ctx context.Context, name, owner string, content io.Reader) (string, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeUpload(mw, name, owner, content)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/", pr)
	if err != nil {
		pr.Close()
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return "", err
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}
	log.Debug().Str("key", body.ID).Str("file_name", name).Msg("file uploaded")
	return body.ID, nil
}

func writeUpload(mw *multipart.Writer, name, owner string, content io.Reader) error {
	if err := mw.WriteField("name", name); err != nil {
		return err
	}
	if err := mw.WriteField("owner", owner); err != nil {
		return err
	}
	fw, err := mw.CreateFormField("bytes")
	if err != nil {
		return err
	}
	n, err := io.Copy(fw, content)
	if err != nil {
		return err
	}
	log.Debug().Int64("bytesWritten", n).Msg("data written")
	return nil
}

// Info returns nil when the server has no record for key.
func (c *Client) Info(ctx context.Context, key string) (*store.FileMetadata, error) {
	resp, err := c.get(ctx, "/"+url.PathEscape(key)+"/info")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var fm *store.FileMetadata
	if err := json.NewDecoder(resp.Body).Decode(&fm); err != nil {
		return nil, fmt.Errorf("decoding info response: %w", err)
	}
	return fm, nil
}

// Download returns the file content. Callers must close it.
func (c *Client) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := c.get(ctx, "/"+url.PathEscape(key))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Fetch reads both the metadata and the content of key.
func (c *Client) Fetch(ctx context.Context, key string) (*store.FileOutput, error) {
	fm, err := c.Info(ctx, key)
	if err != nil {
		return nil, err
	}
	if fm == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, key)
	}

	rc, err := c.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading content of %s: %w", key, err)
	}
	return &store.FileOutput{FileMetadata: *fm, Bytes: b}, nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Message string `json:"message"`
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return errors.Join(apiErr, err)
	}
	if json.Unmarshal(b, &body) == nil && body.Message != "" {
		apiErr.Message = body.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(b))
	}
	return apiErr
}
