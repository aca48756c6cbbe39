package store

// Category is the Hero/Hub/Help content label.
type Category string

const (
	CategoryHero Category = "hero"
	CategoryHub  Category = "hub"
	CategoryHelp Category = "help"
)

// Categories lists the valid labels in reporting order.
var Categories = []Category{CategoryHero, CategoryHub, CategoryHelp}

// ParseCategory validates a label. The empty string is not a category;
// callers represent "unclassified" with a nil pointer or NULL column.
func ParseCategory(s string) (Category, bool) {
	switch Category(s) {
	case CategoryHero, CategoryHub, CategoryHelp:
		return Category(s), true
	}
	return "", false
}

// Calculation methods recorded on frequency rows.
const (
	MethodRealDates      = "real_dates"
	MethodSimpleEstimate = "simple_estimate"
)

// Competitor is a tracked external channel.
type Competitor struct {
	ID              int64   `db:"id" json:"id"`
	ChannelID       string  `db:"channel_id" json:"channel_id"`
	ChannelURL      string  `db:"channel_url" json:"channel_url"`
	Name            string  `db:"name" json:"name"`
	SubscriberCount *int64  `db:"subscriber_count" json:"subscriber_count"`
	ViewCount       *int64  `db:"view_count" json:"view_count"`
	VideoCount      *int64  `db:"video_count" json:"video_count"`
	Country         *string `db:"country" json:"country,omitempty"`
	Language        *string `db:"language" json:"language,omitempty"`
	CreatedAt       Time    `db:"created_at" json:"created_at"`
	LastUpdated     Time    `db:"last_updated" json:"last_updated"`
}

// Video is a single upload of a competitor.
type Video struct {
	ID                 int64    `db:"id" json:"id"`
	CompetitorID       int64    `db:"competitor_id" json:"competitor_id"`
	VideoID            string   `db:"video_id" json:"video_id"`
	Title              string   `db:"title" json:"title"`
	PublishedAt        NullTime `db:"published_at" json:"published_at"`
	YouTubePublishedAt NullTime `db:"youtube_published_at" json:"youtube_published_at"`
	DurationSeconds    *int64   `db:"duration_seconds" json:"duration_seconds"`
	ViewCount          *int64   `db:"view_count" json:"view_count"`
	LikeCount          *int64   `db:"like_count" json:"like_count"`
	CommentCount       *int64   `db:"comment_count" json:"comment_count"`
	Category           *string  `db:"category" json:"category"`
	SentimentLabel     *string  `db:"sentiment_label" json:"sentiment_label,omitempty"`
	SentimentScore     *float64 `db:"sentiment_score" json:"sentiment_score,omitempty"`
	CreatedAt          Time     `db:"created_at" json:"created_at"`
	LastUpdated        Time     `db:"last_updated" json:"last_updated"`
}

// EffectiveDate prefers the externally provided publication time over the
// internally recorded one.
func (v *Video) EffectiveDate() NullTime {
	if v.YouTubePublishedAt.Valid {
		return v.YouTubePublishedAt
	}
	return v.PublishedAt
}

// Playlist groups videos of one competitor.
type Playlist struct {
	ID           int64   `db:"id" json:"id"`
	CompetitorID int64   `db:"competitor_id" json:"competitor_id"`
	PlaylistID   string  `db:"playlist_id" json:"playlist_id"`
	Name         string  `db:"name" json:"name"`
	Category     *string `db:"category" json:"category"`
	VideoCount   int64   `db:"video_count" json:"video_count"`
	CreatedAt    Time    `db:"created_at" json:"created_at"`
	LastUpdated  Time    `db:"last_updated" json:"last_updated"`
}

// Membership links a playlist and a video.
type Membership struct {
	PlaylistID int64  `db:"playlist_id" json:"playlist_id"`
	VideoID    int64  `db:"video_id" json:"video_id"`
	Position   *int64 `db:"position" json:"position"`
	AddedAt    Time   `db:"added_at" json:"added_at"`
}

// Snapshot is a point-in-time record of a competitor's aggregate counts.
type Snapshot struct {
	ID              int64   `db:"id" json:"id"`
	CompetitorID    int64   `db:"competitor_id" json:"competitor_id"`
	RecordedAt      Time    `db:"recorded_at" json:"recorded_at"`
	SubscriberCount int64   `db:"subscriber_count" json:"subscriber_count"`
	ViewCount       int64   `db:"view_count" json:"view_count"`
	VideoCount      int64   `db:"video_count" json:"video_count"`
	SubscriberDelta int64   `db:"subscriber_delta" json:"subscriber_delta"`
	ViewDelta       int64   `db:"view_delta" json:"view_delta"`
	VideoDelta      int64   `db:"video_delta" json:"video_delta"`
	Notes           *string `db:"notes" json:"notes,omitempty"`
}

// FrequencyStats is the derived publishing cadence of one competitor.
type FrequencyStats struct {
	CompetitorID      int64    `db:"competitor_id" json:"competitor_id"`
	TotalVideos       int64    `db:"total_videos" json:"total_videos"`
	TotalWeeks        int64    `db:"total_weeks" json:"total_weeks"`
	AvgVideosPerWeek  float64  `db:"avg_videos_per_week" json:"avg_videos_per_week"`
	HeroCount         int64    `db:"hero_count" json:"hero_count"`
	HubCount          int64    `db:"hub_count" json:"hub_count"`
	HelpCount         int64    `db:"help_count" json:"help_count"`
	HeroPerWeek       float64  `db:"hero_per_week" json:"hero_per_week"`
	HubPerWeek        float64  `db:"hub_per_week" json:"hub_per_week"`
	HelpPerWeek       float64  `db:"help_per_week" json:"help_per_week"`
	FirstPublished    NullTime `db:"first_published" json:"first_published"`
	LastPublished     NullTime `db:"last_published" json:"last_published"`
	CalculationMethod string   `db:"calculation_method" json:"calculation_method"`
	LastUpdated       Time     `db:"last_updated" json:"last_updated"`
}
