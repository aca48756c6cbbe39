package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/elonfeng/ytradar/internal/ingest"
)

// maxPageSize is the largest page the Data API returns.
const maxPageSize = 50

// YouTubeOptions configure the Data API importer.
type YouTubeOptions struct {
	APIKey   string
	Channels []string
	// MaxVideos caps the uploads imported per channel.
	MaxVideos         int
	RequestsPerSecond float64
	// BaseURL overrides the API endpoint.
	BaseURL    string
	HTTPClient *http.Client
}

// YouTube imports channels, uploads and playlists through the Data API v3.
type YouTube struct {
	service    *youtube.Service
	limiter    *rate.Limiter
	channels   []string
	maxVideos  int
	classifier *Classifier
	log        *slog.Logger
}

// NewYouTube creates a Data API importer.
func NewYouTube(ctx context.Context, opts YouTubeOptions, classifier *Classifier, logger *slog.Logger) (*YouTube, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("youtube: API key required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientOpts := []option.ClientOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	svc, err := youtube.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	maxVideos := opts.MaxVideos
	if maxVideos <= 0 {
		maxVideos = 200
	}
	return &YouTube{
		service:    svc,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		channels:   opts.Channels,
		maxVideos:  maxVideos,
		classifier: classifier,
		log:        logger,
	}, nil
}

func (y *YouTube) Name() string { return NameYouTubeAPI }

func (y *YouTube) Collect(ctx context.Context) (*ingest.Batch, error) {
	b := &ingest.Batch{Source: NameYouTubeAPI}
	for _, ch := range y.channels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cb, err := y.collectChannel(ctx, ch)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			y.log.Warn("youtube channel import failed", "channel_id", ch, "err", err)
			continue
		}
		y.log.Info("youtube channel imported",
			"channel_id", ch,
			"videos", len(cb.Videos),
			"playlists", len(cb.Playlists))
		b.Competitors = append(b.Competitors, *cb)
	}
	return b, nil
}

func (y *YouTube) collectChannel(ctx context.Context, channelID string) (*ingest.CompetitorBatch, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := y.service.Channels.List([]string{"snippet", "statistics", "contentDetails"}).
		Id(channelID).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("channels.list: %w", err)
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("channel %s not found", channelID)
	}
	ch := resp.Items[0]
	cb := &ingest.CompetitorBatch{CompetitorRecord: channelRecord(ch)}

	var uploads string
	if ch.ContentDetails != nil && ch.ContentDetails.RelatedPlaylists != nil {
		uploads = ch.ContentDetails.RelatedPlaylists.Uploads
	}
	known := make(map[string]bool)
	if uploads != "" {
		items, err := y.playlistItems(ctx, uploads, y.maxVideos)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(items))
		for _, it := range items {
			if it.ContentDetails != nil && it.ContentDetails.VideoId != "" {
				ids = append(ids, it.ContentDetails.VideoId)
			}
		}
		videos, err := y.videos(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, v := range videos {
			known[v.Id] = true
			cb.Videos = append(cb.Videos, y.videoRecord(v))
		}
	}

	playlists, err := y.playlists(ctx, channelID)
	if err != nil {
		return nil, err
	}
	for _, p := range playlists {
		items, err := y.playlistItems(ctx, p.Id, y.maxVideos)
		if err != nil {
			return nil, err
		}
		pb := ingest.PlaylistBatch{PlaylistRecord: ingest.PlaylistRecord{PlaylistID: p.Id}}
		if p.Snippet != nil {
			pb.Name = ptr(p.Snippet.Title)
		}
		for _, it := range items {
			if it.ContentDetails == nil || !known[it.ContentDetails.VideoId] {
				continue
			}
			l := ingest.LinkRecord{VideoID: it.ContentDetails.VideoId}
			if it.Snippet != nil {
				l.Position = ptr(int(it.Snippet.Position))
			}
			pb.Videos = append(pb.Videos, l)
		}
		cb.Playlists = append(cb.Playlists, pb)
	}
	return cb, nil
}

func (y *YouTube) playlistItems(ctx context.Context, playlistID string, limit int) ([]*youtube.PlaylistItem, error) {
	var out []*youtube.PlaylistItem
	pageToken := ""
	for len(out) < limit {
		if err := y.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := y.service.PlaylistItems.List([]string{"snippet", "contentDetails"}).
			PlaylistId(playlistID).
			MaxResults(maxPageSize).
			PageToken(pageToken).
			Context(ctx).
			Do()
		if err != nil {
			return nil, fmt.Errorf("playlistItems.list %s: %w", playlistID, err)
		}
		out = append(out, resp.Items...)
		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (y *YouTube) videos(ctx context.Context, ids []string) ([]*youtube.Video, error) {
	var out []*youtube.Video
	for start := 0; start < len(ids); start += maxPageSize {
		end := min(start+maxPageSize, len(ids))
		if err := y.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := y.service.Videos.List([]string{"snippet", "statistics", "contentDetails"}).
			Id(ids[start:end]...).
			Context(ctx).
			Do()
		if err != nil {
			return nil, fmt.Errorf("videos.list: %w", err)
		}
		out = append(out, resp.Items...)
	}
	return out, nil
}

func (y *YouTube) playlists(ctx context.Context, channelID string) ([]*youtube.Playlist, error) {
	var out []*youtube.Playlist
	pageToken := ""
	for {
		if err := y.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := y.service.Playlists.List([]string{"snippet"}).
			ChannelId(channelID).
			MaxResults(maxPageSize).
			PageToken(pageToken).
			Context(ctx).
			Do()
		if err != nil {
			return nil, fmt.Errorf("playlists.list: %w", err)
		}
		out = append(out, resp.Items...)
		pageToken = resp.NextPageToken
		if pageToken == "" {
			return out, nil
		}
	}
}

func channelRecord(ch *youtube.Channel) ingest.CompetitorRecord {
	rec := ingest.CompetitorRecord{
		ChannelID:  ch.Id,
		ChannelURL: ptr(ChannelURL(ch.Id)),
	}
	if s := ch.Snippet; s != nil {
		rec.Name = ptr(s.Title)
		if s.Country != "" {
			rec.Country = ptr(s.Country)
		}
		if s.DefaultLanguage != "" {
			rec.Language = ptr(s.DefaultLanguage)
		}
	}
	if st := ch.Statistics; st != nil {
		if !st.HiddenSubscriberCount {
			rec.SubscriberCount = ptr(int64(st.SubscriberCount))
		}
		rec.ViewCount = ptr(int64(st.ViewCount))
		rec.VideoCount = ptr(int64(st.VideoCount))
	}
	return rec
}

func (y *YouTube) videoRecord(v *youtube.Video) ingest.VideoRecord {
	rec := ingest.VideoRecord{VideoID: v.Id}
	if s := v.Snippet; s != nil {
		rec.Title = ptr(s.Title)
		rec.Category = y.classifier.Classify(s.Title)
		if s.PublishedAt != "" {
			rec.YouTubePublishedAt = ptr(s.PublishedAt)
		}
	}
	if st := v.Statistics; st != nil {
		rec.ViewCount = ptr(int64(st.ViewCount))
		// Hidden like counts decode as 0; a watched video with no likes is
		// recorded as unknown.
		if st.LikeCount > 0 || st.ViewCount == 0 {
			rec.LikeCount = ptr(int64(st.LikeCount))
		}
		rec.CommentCount = ptr(int64(st.CommentCount))
	}
	if cd := v.ContentDetails; cd != nil {
		if secs, err := ParseDuration(cd.Duration); err == nil {
			rec.DurationSeconds = &secs
		}
	}
	return rec
}

var isoDuration = regexp.MustCompile(`^P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParseDuration converts an ISO 8601 video duration such as PT1H2M3S into
// seconds.
func ParseDuration(s string) (int64, error) {
	m := isoDuration.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "PT" {
		return 0, fmt.Errorf("invalid ISO 8601 duration %q", s)
	}
	units := []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute, time.Second}
	var total time.Duration
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseInt(m[i+1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid ISO 8601 duration %q: %w", s, err)
		}
		total += time.Duration(n) * unit
	}
	return int64(total / time.Second), nil
}
