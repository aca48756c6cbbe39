// Package source imports competitor data from YouTube into ingest batches.
package source

import (
	"context"
	"time"

	"github.com/elonfeng/ytradar/internal/ingest"
)

// Source names.
const (
	NameYouTubeAPI = "youtube_api"
	NameFeed       = "youtube_feed"
)

// Source is the interface every importer implements. Collect returns one
// batch covering every configured channel; channels that fail are logged
// and left out.
type Source interface {
	Name() string
	Collect(ctx context.Context) (*ingest.Batch, error)
}

// ChannelURL is the canonical URL of a channel.
func ChannelURL(channelID string) string {
	return "https://www.youtube.com/channel/" + channelID
}

func ptr[T any](v T) *T { return &v }

// stamp renders a publication time the way ingest.ParseTime reads it.
func stamp(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	return ptr(t.UTC().Format(time.RFC3339))
}
