package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/elonfeng/ytradar/internal/errors"
)

// SeedNote marks the snapshot written for a competitor that had none.
const SeedNote = "initial seed"

// UnclassifiedFilter selects videos whose category is NULL.
const UnclassifiedFilter = "unclassified"

// CompetitorSummary is a competitor joined with its derived data.
type CompetitorSummary struct {
	Competitor
	Videos    int64           `db:"video_total" json:"video_total"`
	Playlists int64           `db:"playlist_total" json:"playlist_total"`
	Frequency *FrequencyStats `db:"-" json:"frequency,omitempty"`
}

// CompetitorListOpts filters ListCompetitors.
type CompetitorListOpts struct {
	NameContains string
	Limit        int
	Offset       int
}

// VideoListOpts filters and orders ListVideos.
type VideoListOpts struct {
	CompetitorID int64
	// Category is hero, hub, help or "unclassified". Empty matches all.
	Category  string
	Sentiment string
	// Sort is one of published, views, likes, comments, engagement.
	Sort   string
	Desc   bool
	Limit  int
	Offset int
}

// Column lists for reads. Adopted legacy tables may carry columns of their
// own, so reads never select *.
var (
	competitorColumns = []string{"id", "channel_id", "channel_url", "name", "subscriber_count", "view_count",
		"video_count", "country", "language", "created_at", "last_updated"}
	videoColumns = []string{"id", "competitor_id", "video_id", "title", "published_at", "youtube_published_at",
		"duration_seconds", "view_count", "like_count", "comment_count", "category", "sentiment_label",
		"sentiment_score", "created_at", "last_updated"}
	playlistColumns = []string{"id", "competitor_id", "playlist_id", "name", "category", "video_count",
		"created_at", "last_updated"}
	membershipColumns = []string{"playlist_id", "video_id", "position", "added_at"}
	snapshotColumns   = []string{"id", "competitor_id", "recorded_at", "subscriber_count", "view_count",
		"video_count", "subscriber_delta", "view_delta", "video_delta", "notes"}
	frequencyColumns = []string{"competitor_id", "total_videos", "total_weeks", "avg_videos_per_week",
		"hero_count", "hub_count", "help_count", "hero_per_week", "hub_per_week", "help_per_week",
		"first_published", "last_published", "calculation_method", "last_updated"}
)

// selectList joins columns, qualified with alias when one is given.
func selectList(alias string, columns []string) string {
	if alias == "" {
		return strings.Join(columns, ", ")
	}
	qualified := make([]string, len(columns))
	for i, c := range columns {
		qualified[i] = alias + "." + c
	}
	return strings.Join(qualified, ", ")
}

var videoSortColumns = map[string]string{
	"published":  "COALESCE(youtube_published_at, published_at)",
	"views":      "view_count",
	"likes":      "like_count",
	"comments":   "comment_count",
	"engagement": "CASE WHEN view_count > 0 THEN (COALESCE(like_count, 0) + COALESCE(comment_count, 0)) * 1.0 / view_count END",
}

// SeedSnapshots inserts one zero-delta snapshot for every competitor that
// has at least one known count and no snapshot yet.
func SeedSnapshots(ctx context.Context, tx sqlx.ExecerContext, now Time) (int, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO stats_history (competitor_id, recorded_at, subscriber_count, view_count, video_count,
		                           subscriber_delta, view_delta, video_delta, notes)
		SELECT c.id, ?, COALESCE(c.subscriber_count, 0), COALESCE(c.view_count, 0), COALESCE(c.video_count, 0),
		       0, 0, 0, ?
		FROM competitors c
		WHERE (c.subscriber_count IS NOT NULL OR c.view_count IS NOT NULL OR c.video_count IS NOT NULL)
		  AND NOT EXISTS (SELECT 1 FROM stats_history h WHERE h.competitor_id = c.id)`,
		now, SeedNote)
	if err != nil {
		return 0, apperrors.ClassifyStorage("seed snapshots", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// GetCompetitor loads one competitor by synthetic id.
func GetCompetitor(ctx context.Context, q sqlx.QueryerContext, id int64) (*Competitor, error) {
	var c Competitor
	err := sqlx.GetContext(ctx, q, &c, "SELECT "+selectList("", competitorColumns)+" FROM competitors WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Validation(apperrors.CodeNotFound, "competitor %d not found", id)
	}
	if err != nil {
		return nil, apperrors.ClassifyStorage("get competitor", err)
	}
	return &c, nil
}

// LatestSnapshot returns the most recent snapshot of a competitor, or nil.
func LatestSnapshot(ctx context.Context, q sqlx.QueryerContext, competitorID int64) (*Snapshot, error) {
	var snap Snapshot
	err := sqlx.GetContext(ctx, q, &snap,
		"SELECT "+selectList("", snapshotColumns)+
			" FROM stats_history WHERE competitor_id = ? ORDER BY recorded_at DESC, id DESC LIMIT 1",
		competitorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.ClassifyStorage("latest snapshot", err)
	}
	return &snap, nil
}

// GetCompetitor loads one competitor by synthetic id.
func (s *Store) GetCompetitor(ctx context.Context, id int64) (*Competitor, error) {
	return GetCompetitor(ctx, s.db, id)
}

// GetVideo loads one video by synthetic id.
func (s *Store) GetVideo(ctx context.Context, id int64) (*Video, error) {
	var v Video
	err := s.db.GetContext(ctx, &v, "SELECT "+selectList("", videoColumns)+" FROM videos WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Validation(apperrors.CodeNotFound, "video %d not found", id)
	}
	if err != nil {
		return nil, apperrors.ClassifyStorage("get video", err)
	}
	return &v, nil
}

// GetPlaylist loads one playlist by synthetic id.
func (s *Store) GetPlaylist(ctx context.Context, id int64) (*Playlist, error) {
	var p Playlist
	err := s.db.GetContext(ctx, &p, "SELECT "+selectList("", playlistColumns)+" FROM playlists WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Validation(apperrors.CodeNotFound, "playlist %d not found", id)
	}
	if err != nil {
		return nil, apperrors.ClassifyStorage("get playlist", err)
	}
	return &p, nil
}

// ListCompetitors returns competitors ordered by name, each joined with its
// video and playlist totals and frequency row when one exists.
func (s *Store) ListCompetitors(ctx context.Context, opts CompetitorListOpts) ([]CompetitorSummary, error) {
	query := `
		SELECT ` + selectList("c", competitorColumns) + `,
		       (SELECT COUNT(*) FROM videos v WHERE v.competitor_id = c.id) AS video_total,
		       (SELECT COUNT(*) FROM playlists p WHERE p.competitor_id = c.id) AS playlist_total
		FROM competitors c`
	var args []any
	if opts.NameContains != "" {
		query += " WHERE c.name LIKE ?"
		args = append(args, "%"+opts.NameContains+"%")
	}
	query += " ORDER BY c.name, c.id"
	query, args = paginate(query, args, opts.Limit, opts.Offset)

	var out []CompetitorSummary
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, apperrors.ClassifyStorage("list competitors", err)
	}

	var stats []FrequencyStats
	if err := s.db.SelectContext(ctx, &stats, "SELECT "+selectList("", frequencyColumns)+" FROM frequency_stats"); err != nil {
		return nil, apperrors.ClassifyStorage("list frequency stats", err)
	}
	byID := make(map[int64]*FrequencyStats, len(stats))
	for i := range stats {
		byID[stats[i].CompetitorID] = &stats[i]
	}
	for i := range out {
		out[i].Frequency = byID[out[i].ID]
	}
	return out, nil
}

// ListVideos returns videos matching opts. Rows with a NULL sort key come last.
func (s *Store) ListVideos(ctx context.Context, opts VideoListOpts) ([]Video, error) {
	var where []string
	var args []any

	if opts.CompetitorID != 0 {
		where = append(where, "competitor_id = ?")
		args = append(args, opts.CompetitorID)
	}
	switch opts.Category {
	case "":
	case UnclassifiedFilter:
		where = append(where, "category IS NULL")
	default:
		if _, ok := ParseCategory(opts.Category); !ok {
			return nil, apperrors.Validation(apperrors.CodeUnknownCategory, "unknown category %q", opts.Category)
		}
		where = append(where, "category = ?")
		args = append(args, opts.Category)
	}
	if opts.Sentiment != "" {
		where = append(where, "sentiment_label = ?")
		args = append(args, opts.Sentiment)
	}

	sortKey := opts.Sort
	if sortKey == "" {
		sortKey = "published"
	}
	col, ok := videoSortColumns[sortKey]
	if !ok {
		return nil, apperrors.Validation(apperrors.CodeUnknownField, "unknown sort key %q", opts.Sort)
	}
	dir := "ASC"
	if opts.Desc {
		dir = "DESC"
	}

	query := "SELECT " + selectList("", videoColumns) + " FROM videos"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY (%s) IS NULL, %s %s, id %s", col, col, dir, dir)
	query, args = paginate(query, args, opts.Limit, opts.Offset)

	var out []Video
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, apperrors.ClassifyStorage("list videos", err)
	}
	return out, nil
}

// ListSnapshots returns a competitor's snapshots in recorded order. A zero
// since returns the full history.
func (s *Store) ListSnapshots(ctx context.Context, competitorID int64, since time.Time) ([]Snapshot, error) {
	query := "SELECT " + selectList("", snapshotColumns) + " FROM stats_history WHERE competitor_id = ?"
	args := []any{competitorID}
	if !since.IsZero() {
		query += " AND recorded_at >= ?"
		args = append(args, FormatTime(since))
	}
	query += " ORDER BY recorded_at, id"

	var out []Snapshot
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, apperrors.ClassifyStorage("list snapshots", err)
	}
	return out, nil
}

// GetFrequencyStats returns the cached cadence row, or nil when none exists.
func (s *Store) GetFrequencyStats(ctx context.Context, competitorID int64) (*FrequencyStats, error) {
	var fs FrequencyStats
	err := s.db.GetContext(ctx, &fs, "SELECT "+selectList("", frequencyColumns)+" FROM frequency_stats WHERE competitor_id = ?",
		competitorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.ClassifyStorage("get frequency stats", err)
	}
	return &fs, nil
}

// ListPlaylists returns a competitor's playlists; competitorID 0 lists all.
func (s *Store) ListPlaylists(ctx context.Context, competitorID int64) ([]Playlist, error) {
	query := "SELECT " + selectList("", playlistColumns) + " FROM playlists"
	var args []any
	if competitorID != 0 {
		query += " WHERE competitor_id = ?"
		args = append(args, competitorID)
	}
	query += " ORDER BY competitor_id, id"

	var out []Playlist
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, apperrors.ClassifyStorage("list playlists", err)
	}
	return out, nil
}

// ListMemberships returns the membership rows of one playlist.
func (s *Store) ListMemberships(ctx context.Context, playlistID int64) ([]Membership, error) {
	var out []Membership
	err := s.db.SelectContext(ctx, &out,
		"SELECT "+selectList("", membershipColumns)+
			" FROM playlist_videos WHERE playlist_id = ? ORDER BY position IS NULL, position, video_id",
		playlistID)
	if err != nil {
		return nil, apperrors.ClassifyStorage("list memberships", err)
	}
	return out, nil
}

func paginate(query string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	}
	return query, args
}
