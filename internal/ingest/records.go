// Package ingest is the upsert-only entry point used by scrapers and API
// importers. Records carry pointer fields: nil means "unknown, keep what is
// stored".
package ingest

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/elonfeng/ytradar/internal/errors"
	"github.com/elonfeng/ytradar/internal/store"
)

// CompetitorRecord describes a channel as seen by an importer.
type CompetitorRecord struct {
	ChannelID       string  `yaml:"channel_id" json:"channel_id"`
	ChannelURL      *string `yaml:"channel_url" json:"channel_url,omitempty"`
	Name            *string `yaml:"name" json:"name,omitempty"`
	SubscriberCount *int64  `yaml:"subscriber_count" json:"subscriber_count,omitempty"`
	ViewCount       *int64  `yaml:"view_count" json:"view_count,omitempty"`
	VideoCount      *int64  `yaml:"video_count" json:"video_count,omitempty"`
	Country         *string `yaml:"country" json:"country,omitempty"`
	Language        *string `yaml:"language" json:"language,omitempty"`
}

// VideoRecord describes one upload. Timestamps are parsed by ParseTime.
type VideoRecord struct {
	VideoID            string   `yaml:"video_id" json:"video_id"`
	Title              *string  `yaml:"title" json:"title,omitempty"`
	PublishedAt        *string  `yaml:"published_at" json:"published_at,omitempty"`
	YouTubePublishedAt *string  `yaml:"youtube_published_at" json:"youtube_published_at,omitempty"`
	DurationSeconds    *int64   `yaml:"duration_seconds" json:"duration_seconds,omitempty"`
	ViewCount          *int64   `yaml:"view_count" json:"view_count,omitempty"`
	LikeCount          *int64   `yaml:"like_count" json:"like_count,omitempty"`
	CommentCount       *int64   `yaml:"comment_count" json:"comment_count,omitempty"`
	Category           *string  `yaml:"category" json:"category,omitempty"`
	SentimentLabel     *string  `yaml:"sentiment_label" json:"sentiment_label,omitempty"`
	SentimentScore     *float64 `yaml:"sentiment_score" json:"sentiment_score,omitempty"`
}

// PlaylistRecord describes one playlist. video_count is derived from
// membership and is not accepted from importers.
type PlaylistRecord struct {
	PlaylistID string  `yaml:"playlist_id" json:"playlist_id"`
	Name       *string `yaml:"name" json:"name,omitempty"`
	Category   *string `yaml:"category" json:"category,omitempty"`
}

// LinkRecord places a video, by external id, into a playlist.
type LinkRecord struct {
	VideoID  string `yaml:"video_id" json:"video_id"`
	Position *int   `yaml:"position" json:"position,omitempty"`
}

// Batch is the document importers hand to ApplyBatch.
type Batch struct {
	Source      string            `yaml:"source" json:"source,omitempty"`
	Competitors []CompetitorBatch `yaml:"competitors" json:"competitors"`
}

// CompetitorBatch is a competitor with its nested videos and playlists.
type CompetitorBatch struct {
	CompetitorRecord `yaml:",inline"`
	Videos           []VideoRecord   `yaml:"videos" json:"videos,omitempty"`
	Playlists        []PlaylistBatch `yaml:"playlists" json:"playlists,omitempty"`
}

// PlaylistBatch is a playlist with its membership.
type PlaylistBatch struct {
	PlaylistRecord `yaml:",inline"`
	Videos         []LinkRecord `yaml:"videos" json:"videos,omitempty"`
}

// DecodeBatch reads a YAML (or JSON) batch. Unknown fields are rejected.
func DecodeBatch(r io.Reader) (*Batch, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var b Batch
	if err := dec.Decode(&b); err != nil {
		if errors.Is(err, io.EOF) {
			return &b, nil
		}
		if strings.Contains(err.Error(), "not found in type") {
			return nil, apperrors.Wrap(apperrors.CategoryValidation, apperrors.CodeUnknownField, "decode batch", err)
		}
		return nil, apperrors.Wrap(apperrors.CategoryValidation, apperrors.CodeMalformedInput, "decode batch", err)
	}
	return &b, nil
}

func (r *CompetitorRecord) validate() error {
	if strings.TrimSpace(r.ChannelID) == "" {
		return apperrors.Validation(apperrors.CodeMissingField, "competitor channel_id is required")
	}
	return checkCounts("competitor "+r.ChannelID, map[string]*int64{
		"subscriber_count": r.SubscriberCount,
		"view_count":       r.ViewCount,
		"video_count":      r.VideoCount,
	})
}

// normalizedVideo holds the parsed timestamps of a VideoRecord.
type normalizedVideo struct {
	publishedAt        store.NullTime
	youtubePublishedAt store.NullTime
}

func (r *VideoRecord) validate() (*normalizedVideo, error) {
	if strings.TrimSpace(r.VideoID) == "" {
		return nil, apperrors.Validation(apperrors.CodeMissingField, "video_id is required")
	}
	if err := checkCounts("video "+r.VideoID, map[string]*int64{
		"duration_seconds": r.DurationSeconds,
		"view_count":       r.ViewCount,
		"like_count":       r.LikeCount,
		"comment_count":    r.CommentCount,
	}); err != nil {
		return nil, err
	}
	if r.Category != nil {
		if _, ok := store.ParseCategory(*r.Category); !ok {
			return nil, apperrors.Validation(apperrors.CodeUnknownCategory,
				"video %s: unknown category %q", r.VideoID, *r.Category)
		}
	}

	var n normalizedVideo
	for _, f := range []struct {
		name string
		in   *string
		out  *store.NullTime
	}{
		{"published_at", r.PublishedAt, &n.publishedAt},
		{"youtube_published_at", r.YouTubePublishedAt, &n.youtubePublishedAt},
	} {
		if f.in == nil {
			continue
		}
		t, err := store.ParseTime(*f.in)
		if err != nil {
			return nil, apperrors.Validation(apperrors.CodeMalformedTime,
				"video %s: %s %q is not a timestamp", r.VideoID, f.name, *f.in)
		}
		*f.out = store.NullTimeFrom(t)
	}
	return &n, nil
}

func (r *PlaylistRecord) validate() error {
	if strings.TrimSpace(r.PlaylistID) == "" {
		return apperrors.Validation(apperrors.CodeMissingField, "playlist_id is required")
	}
	if r.Category != nil {
		if _, ok := store.ParseCategory(*r.Category); !ok {
			return apperrors.Validation(apperrors.CodeUnknownCategory,
				"playlist %s: unknown category %q", r.PlaylistID, *r.Category)
		}
	}
	return nil
}

func checkCounts(subject string, counts map[string]*int64) error {
	for name, v := range counts {
		if v != nil && *v < 0 {
			return apperrors.Validation(apperrors.CodeNegativeCount, "%s: %s is negative (%d)", subject, name, *v)
		}
	}
	return nil
}

// checkEngagement rejects likes above views once views are known to be positive.
func checkEngagement(videoID string, views, likes *int64) error {
	if views != nil && likes != nil && *views > 0 && *likes > *views {
		return apperrors.Validation(apperrors.CodeEngagement,
			"video %s: like_count %d exceeds view_count %d", videoID, *likes, *views)
	}
	return nil
}

func describe(kind, key string) string {
	return fmt.Sprintf("%s %s", kind, key)
}
