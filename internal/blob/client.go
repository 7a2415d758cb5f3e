// Package blob is the boundary to the external media store: bytes in, URL
// out. Size caps are enforced before upload so an oversized payload never
// leaves the process.
package blob

import (
	"context"
	"fmt"

	"example.com/socialstream/internal/models"
	"resty.dev/v3"
)

// Media size caps: post images and story media (image or video).
const (
	MaxPostImageBytes  = 5 << 20
	MaxStoryMediaBytes = 10 << 20
)

// Uploader stores a media payload and returns its public URL.
type Uploader interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
}

// ValidateSize rejects empty or over-cap payloads before any network call.
func ValidateSize(data []byte, limit int) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty media payload", models.ErrValidation)
	}
	if len(data) > limit {
		return fmt.Errorf("%w: media exceeds %d bytes", models.ErrValidation, limit)
	}
	return nil
}

type Client struct {
	http *resty.Client
}

func NewClient(baseURL string) *Client {
	client := resty.New().SetBaseURL(baseURL)
	return &Client{http: client}
}

func (c *Client) Close() error {
	return c.http.Close()
}

// Put uploads the payload and returns the stored object's URL. Failures map
// to the transient class: the caller retries manually, and no domain record
// exists yet to roll back.
func (c *Client) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}

	resp, err := c.http.R().
		WithContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(data).
		SetResult(&out).
		Post("/upload")
	if err != nil {
		return "", fmt.Errorf("%w: blob upload: %v", models.ErrTransient, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: blob store returned %s", models.ErrTransient, resp.Status())
	}
	if out.URL == "" {
		return "", fmt.Errorf("%w: blob store returned no url", models.ErrTransient)
	}
	return out.URL, nil
}
