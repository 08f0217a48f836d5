package tools

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/af-corp/scout/internal/search"
)

const defaultImageCheckTimeout = 5 * time.Second

// ImageValidator drops image URLs that do not answer a HEAD request with an
// image within the timeout.
type ImageValidator struct {
	client  *http.Client
	timeout time.Duration
	limit   int
}

func NewImageValidator(client *http.Client, timeout time.Duration) *ImageValidator {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = defaultImageCheckTimeout
	}
	return &ImageValidator{client: client, timeout: timeout, limit: 8}
}

// Filter returns the reachable images in their original order. Failures are
// dropped silently.
func (v *ImageValidator) Filter(ctx context.Context, images []search.Image) []search.Image {
	if v == nil || len(images) == 0 {
		return images
	}
	ok := make([]bool, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.limit)
	for i, img := range images {
		g.Go(func() error {
			ok[i] = v.check(gctx, img.URL)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]search.Image, 0, len(images))
	for i, img := range images {
		if ok[i] {
			out = append(out, img)
		}
	}
	return out
}

func (v *ImageValidator) check(ctx context.Context, rawURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return false
	}
	ct := resp.Header.Get("Content-Type")
	return ct == "" || strings.HasPrefix(strings.ToLower(ct), "image/")
}
