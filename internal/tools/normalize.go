package tools

import (
	"net/url"
	"strings"

	"github.com/af-corp/scout/internal/search"
)

// resultKey identifies a hit by host and path, ignoring scheme, "www.",
// query string, fragment and trailing slashes.
func resultKey(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	path := strings.TrimRight(u.EscapedPath(), "/")
	return host + path
}

// DedupeResults keeps the first hit for each (domain, path). It is idempotent.
func DedupeResults(results []search.Result) []search.Result {
	seen := make(map[string]struct{}, len(results))
	return dedupeInto(results, seen)
}

// DedupeGroups removes duplicate hits across query groups; earlier groups win
// and group order is preserved.
func DedupeGroups(groups []QueryResult) []QueryResult {
	seen := make(map[string]struct{})
	out := make([]QueryResult, len(groups))
	for i, g := range groups {
		out[i] = g
		out[i].Results = dedupeInto(g.Results, seen)
	}
	return out
}

func dedupeInto(results []search.Result, seen map[string]struct{}) []search.Result {
	out := make([]search.Result, 0, len(results))
	for _, r := range results {
		key := resultKey(r.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// dedupeImages keeps the first occurrence of each image URL.
func dedupeImages(images []search.Image) []search.Image {
	seen := make(map[string]struct{}, len(images))
	out := make([]search.Image, 0, len(images))
	for _, img := range images {
		if _, dup := seen[img.URL]; dup {
			continue
		}
		seen[img.URL] = struct{}{}
		out = append(out, img)
	}
	return out
}
