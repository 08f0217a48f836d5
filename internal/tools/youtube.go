package tools

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/af-corp/scout/internal/llm"
	"github.com/af-corp/scout/internal/search"
)

type youtubeArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"maxResults"`
}

var youtubeSchema = MustSchema(object([]string{"query"}, map[string]*jsonschema.Schema{
	"query":      str("What to look for on YouTube."),
	"maxResults": integer("Number of videos to return. Default 10.", 1, 20),
}))

// YouTubeSearchTool finds videos through Exa and enriches each with oEmbed
// metadata. Metadata lookups are cached.
type YouTubeSearchTool struct {
	exa      *search.ExaClient
	metadata *search.VideoMetadataClient
	cache    *expirable.LRU[string, *search.VideoMetadata]
}

func NewYouTubeSearchTool(exa *search.ExaClient, metadata *search.VideoMetadataClient) *YouTubeSearchTool {
	return &YouTubeSearchTool{
		exa:      exa,
		metadata: metadata,
		cache:    expirable.NewLRU[string, *search.VideoMetadata](1024, nil, time.Hour),
	}
}

func (t *YouTubeSearchTool) Name() string { return YouTubeSearch }

func (t *YouTubeSearchTool) Definition() llm.Tool {
	return llm.Tool{
		Name:        YouTubeSearch,
		Description: "Search YouTube videos. Returns links, titles, channel information and thumbnails.",
		Parameters:  youtubeSchema.Parameters(),
	}
}

func (t *YouTubeSearchTool) Execute(ctx context.Context, raw json.RawMessage) (Result, error) {
	var args youtubeArgs
	if err := youtubeSchema.Decode(YouTubeSearch, raw, &args); err != nil {
		return Result{}, err
	}
	if args.MaxResults == 0 {
		args.MaxResults = defaultMaxResultsPerQuery
	}

	resp, err := t.exa.Search(ctx, args.Query, search.ExaOptions{
		NumResults:     args.MaxResults,
		IncludeDomains: []string{"youtube.com"},
		MaxTextChars:   400,
	})
	if err != nil {
		return Result{}, &ToolError{Tool: YouTubeSearch, Op: "search", Err: err}
	}

	var videos []Video
	for _, r := range DedupeResults(resp.Results) {
		id := videoID(r.URL)
		if id == "" {
			continue
		}
		videos = append(videos, Video{
			VideoID:       id,
			URL:           r.URL,
			Title:         r.Title,
			Description:   r.Content,
			PublishedDate: r.PublishedDate,
		})
	}

	// Metadata failures leave the field empty.
	if t.metadata.Configured() {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(5)
		for i := range videos {
			g.Go(func() error {
				videos[i].Metadata = t.lookup(gctx, videos[i].URL)
				return nil
			})
		}
		_ = g.Wait()
	}

	if videos == nil {
		videos = []Video{}
	}
	return Result{Kind: KindVideo, Video: &VideoResult{Query: args.Query, Videos: videos}}, nil
}

func (t *YouTubeSearchTool) lookup(ctx context.Context, videoURL string) *search.VideoMetadata {
	if meta, ok := t.cache.Get(videoURL); ok {
		return meta
	}
	meta, err := t.metadata.Lookup(ctx, videoURL)
	if err != nil {
		return nil
	}
	t.cache.Add(videoURL, meta)
	return meta
}

// videoID extracts the id from watch, shorts and youtu.be URLs.
func videoID(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	switch host {
	case "youtu.be":
		return strings.Trim(u.Path, "/")
	case "youtube.com":
		if u.Path == "/watch" {
			return u.Query().Get("v")
		}
		if id, ok := strings.CutPrefix(u.Path, "/shorts/"); ok {
			return strings.Trim(id, "/")
		}
	}
	return ""
}
