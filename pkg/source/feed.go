package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"github.com/elonfeng/ytradar/internal/ingest"
)

// DefaultFeedURL serves the public Atom feed of a channel's latest uploads.
const DefaultFeedURL = "https://www.youtube.com/feeds/videos.xml"

// Feed imports recent uploads from public channel feeds. It needs no API key
// but only sees the latest entries and carries no like or comment counts.
type Feed struct {
	client     *http.Client
	parser     *gofeed.Parser
	baseURL    string
	channels   []string
	classifier *Classifier
	log        *slog.Logger
}

// NewFeed creates a feed importer. An empty baseURL uses DefaultFeedURL.
func NewFeed(baseURL string, channels []string, classifier *Classifier, logger *slog.Logger) *Feed {
	if baseURL == "" {
		baseURL = DefaultFeedURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		client:     &http.Client{Timeout: 30 * time.Second},
		parser:     gofeed.NewParser(),
		baseURL:    baseURL,
		channels:   channels,
		classifier: classifier,
		log:        logger,
	}
}

func (f *Feed) Name() string { return NameFeed }

func (f *Feed) Collect(ctx context.Context) (*ingest.Batch, error) {
	b := &ingest.Batch{Source: NameFeed}
	for _, ch := range f.channels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cb, err := f.collectChannel(ctx, ch)
		if err != nil {
			f.log.Warn("channel feed failed", "channel_id", ch, "err", err)
			continue
		}
		b.Competitors = append(b.Competitors, *cb)
	}
	return b, nil
}

func (f *Feed) collectChannel(ctx context.Context, channelID string) (*ingest.CompetitorBatch, error) {
	u := f.baseURL + "?" + url.Values{"channel_id": {channelID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request: %w", err)
	}
	req.Header.Set("User-Agent", "ytradar/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed status %d", resp.StatusCode)
	}

	parsed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	name := parsed.Title
	if len(parsed.Authors) > 0 && parsed.Authors[0].Name != "" {
		name = parsed.Authors[0].Name
	}
	cb := &ingest.CompetitorBatch{
		CompetitorRecord: ingest.CompetitorRecord{
			ChannelID:  channelID,
			ChannelURL: ptr(ChannelURL(channelID)),
		},
	}
	if name != "" {
		cb.Name = ptr(name)
	}

	for _, entry := range parsed.Items {
		videoID := extensionValue(entry.Extensions, "yt", "videoId")
		if videoID == "" {
			videoID = strings.TrimPrefix(entry.GUID, "yt:video:")
		}
		if videoID == "" {
			continue
		}

		v := ingest.VideoRecord{
			VideoID:  videoID,
			Title:    ptr(entry.Title),
			Category: f.classifier.Classify(entry.Title),
		}
		if entry.PublishedParsed != nil {
			v.YouTubePublishedAt = stamp(*entry.PublishedParsed)
		}
		if views, ok := feedViews(entry.Extensions); ok {
			v.ViewCount = &views
		}
		cb.Videos = append(cb.Videos, v)
	}
	return cb, nil
}

// feedViews reads media:group/media:community/media:statistics@views.
func feedViews(e ext.Extensions) (int64, bool) {
	for _, group := range e["media"]["group"] {
		for _, community := range group.Children["community"] {
			for _, stats := range community.Children["statistics"] {
				if n, err := strconv.ParseInt(stats.Attrs["views"], 10, 64); err == nil && n >= 0 {
					return n, true
				}
			}
		}
	}
	return 0, false
}

func extensionValue(e ext.Extensions, prefix, name string) string {
	for _, x := range e[prefix][name] {
		if v := strings.TrimSpace(x.Value); v != "" {
			return v
		}
	}
	return ""
}
