package search

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/failsafe-go/failsafe-go"
)

// VideoMetadata is the oEmbed description of a video page.
type VideoMetadata struct {
	Title        string `json:"title"`
	AuthorName   string `json:"author_name,omitempty"`
	AuthorURL    string `json:"author_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`
	Type         string `json:"type,omitempty"`
	HTML         string `json:"html,omitempty"`
}

// VideoMetadataClient queries an oEmbed-compatible metadata endpoint.
type VideoMetadataClient struct {
	endpoint string
	http     transport
}

func NewVideoMetadataClient(endpoint string, client *http.Client, executor failsafe.Executor[[]byte]) *VideoMetadataClient {
	return &VideoMetadataClient{
		endpoint: strings.TrimSpace(endpoint),
		http:     newTransport("video metadata", client, executor),
	}
}

func (c *VideoMetadataClient) Configured() bool { return c != nil && c.endpoint != "" }

// Lookup fetches metadata for one video URL.
func (c *VideoMetadataClient) Lookup(ctx context.Context, videoURL string) (*VideoMetadata, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("url", videoURL)
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	var meta VideoMetadata
	if err := c.http.do(ctx, http.MethodGet, u.String(), nil, nil, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
