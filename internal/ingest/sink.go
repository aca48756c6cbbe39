package ingest

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/elonfeng/ytradar/internal/errors"
	"github.com/elonfeng/ytradar/internal/store"
)

// Sink applies importer records to the store. Every call runs in its own
// transaction and is safe to retry.
type Sink struct {
	store *store.Store
	log   *slog.Logger
}

// New creates a Sink.
func New(s *store.Store, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{store: s, log: logger}
}

// UpsertCompetitor inserts or updates the competitor matched on channel_id
// and returns its id. Nil fields keep the stored value.
func (k *Sink) UpsertCompetitor(ctx context.Context, rec CompetitorRecord) (int64, error) {
	if err := rec.validate(); err != nil {
		return 0, err
	}

	var id int64
	err := k.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var existing struct {
			ID         int64  `db:"id"`
			ChannelURL string `db:"channel_url"`
		}
		err := tx.GetContext(ctx, &existing,
			"SELECT id, channel_url FROM competitors WHERE channel_id = ?", rec.ChannelID)
		now := store.Now()

		if errors.Is(err, sql.ErrNoRows) {
			if rec.ChannelURL == nil || strings.TrimSpace(*rec.ChannelURL) == "" {
				return apperrors.Validation(apperrors.CodeMissingField,
					"new competitor %s needs channel_url", rec.ChannelID)
			}
			if rec.Name == nil || strings.TrimSpace(*rec.Name) == "" {
				return apperrors.Validation(apperrors.CodeMissingField,
					"new competitor %s needs name", rec.ChannelID)
			}
			if err := uniqueURL(ctx, tx, *rec.ChannelURL, rec.ChannelID); err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO competitors (channel_id, channel_url, name, subscriber_count, view_count, video_count,
				                         country, language, created_at, last_updated)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				rec.ChannelID, *rec.ChannelURL, *rec.Name, rec.SubscriberCount, rec.ViewCount, rec.VideoCount,
				rec.Country, rec.Language, now, now)
			if err != nil {
				return apperrors.ClassifyStorage("insert competitor", err)
			}
			id, err = res.LastInsertId()
			return err
		}
		if err != nil {
			return apperrors.ClassifyStorage("find competitor", err)
		}

		if rec.ChannelURL != nil && *rec.ChannelURL != existing.ChannelURL {
			return apperrors.Validation(apperrors.CodeImmutableField,
				"competitor %s: channel_url is immutable (%q -> %q)", rec.ChannelID, existing.ChannelURL, *rec.ChannelURL).
				WithDetails(map[string]any{"competitor_id": existing.ID})
		}

		u := newUpdate("competitors")
		u.setString("name", rec.Name)
		u.setInt("subscriber_count", rec.SubscriberCount)
		u.setInt("view_count", rec.ViewCount)
		u.setInt("video_count", rec.VideoCount)
		u.setString("country", rec.Country)
		u.setString("language", rec.Language)
		u.set("last_updated", now)
		if err := u.exec(ctx, tx, existing.ID); err != nil {
			return err
		}
		id = existing.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	k.log.Debug("competitor upserted", "competitor_id", id, "channel_id", rec.ChannelID)
	return id, nil
}

// UpsertVideo inserts or updates the video matched on video_id under the
// given competitor and returns its id.
func (k *Sink) UpsertVideo(ctx context.Context, competitorID int64, rec VideoRecord) (int64, error) {
	norm, err := rec.validate()
	if err != nil {
		return 0, err
	}
	if err := checkEngagement(rec.VideoID, rec.ViewCount, rec.LikeCount); err != nil {
		return 0, err
	}

	var id int64
	err = k.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := competitorExists(ctx, tx, competitorID); err != nil {
			return err
		}

		var existing struct {
			ID           int64  `db:"id"`
			CompetitorID int64  `db:"competitor_id"`
			ViewCount    *int64 `db:"view_count"`
			LikeCount    *int64 `db:"like_count"`
		}
		err := tx.GetContext(ctx, &existing,
			"SELECT id, competitor_id, view_count, like_count FROM videos WHERE video_id = ?", rec.VideoID)
		now := store.Now()

		if errors.Is(err, sql.ErrNoRows) {
			if rec.Title == nil {
				return apperrors.Validation(apperrors.CodeMissingField, "new video %s needs title", rec.VideoID)
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO videos (competitor_id, video_id, title, published_at, youtube_published_at, duration_seconds,
				                    view_count, like_count, comment_count, category, sentiment_label, sentiment_score,
				                    created_at, last_updated)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				competitorID, rec.VideoID, *rec.Title, norm.publishedAt, norm.youtubePublishedAt, rec.DurationSeconds,
				rec.ViewCount, rec.LikeCount, rec.CommentCount, rec.Category, rec.SentimentLabel, rec.SentimentScore,
				now, now)
			if err != nil {
				return apperrors.ClassifyStorage("insert video", err)
			}
			id, err = res.LastInsertId()
			return err
		}
		if err != nil {
			return apperrors.ClassifyStorage("find video", err)
		}

		if existing.CompetitorID != competitorID {
			return apperrors.Referential(apperrors.CodeCrossCompetitorReassignment,
				"video %s belongs to competitor %d, not %d", rec.VideoID, existing.CompetitorID, competitorID).
				WithDetails(map[string]any{"video_id": existing.ID, "competitor_id": existing.CompetitorID})
		}

		views, likes := existing.ViewCount, existing.LikeCount
		if rec.ViewCount != nil {
			views = rec.ViewCount
		}
		if rec.LikeCount != nil {
			likes = rec.LikeCount
		}
		if err := checkEngagement(rec.VideoID, views, likes); err != nil {
			return err
		}

		u := newUpdate("videos")
		u.setString("title", rec.Title)
		if norm.publishedAt.Valid {
			u.set("published_at", norm.publishedAt)
		}
		if norm.youtubePublishedAt.Valid {
			u.set("youtube_published_at", norm.youtubePublishedAt)
		}
		u.setInt("duration_seconds", rec.DurationSeconds)
		u.setInt("view_count", rec.ViewCount)
		u.setInt("like_count", rec.LikeCount)
		u.setInt("comment_count", rec.CommentCount)
		u.setString("category", rec.Category)
		u.setString("sentiment_label", rec.SentimentLabel)
		if rec.SentimentScore != nil {
			u.set("sentiment_score", *rec.SentimentScore)
		}
		u.set("last_updated", now)
		if err := u.exec(ctx, tx, existing.ID); err != nil {
			return err
		}
		id = existing.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpsertPlaylist inserts or updates the playlist matched on playlist_id
// under the given competitor and returns its id.
func (k *Sink) UpsertPlaylist(ctx context.Context, competitorID int64, rec PlaylistRecord) (int64, error) {
	if err := rec.validate(); err != nil {
		return 0, err
	}

	var id int64
	err := k.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := competitorExists(ctx, tx, competitorID); err != nil {
			return err
		}

		var existing struct {
			ID           int64 `db:"id"`
			CompetitorID int64 `db:"competitor_id"`
		}
		err := tx.GetContext(ctx, &existing,
			"SELECT id, competitor_id FROM playlists WHERE playlist_id = ?", rec.PlaylistID)
		now := store.Now()

		if errors.Is(err, sql.ErrNoRows) {
			if rec.Name == nil {
				return apperrors.Validation(apperrors.CodeMissingField, "new playlist %s needs name", rec.PlaylistID)
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO playlists (competitor_id, playlist_id, name, category, video_count, created_at, last_updated)
				VALUES (?, ?, ?, ?, 0, ?, ?)`,
				competitorID, rec.PlaylistID, *rec.Name, rec.Category, now, now)
			if err != nil {
				return apperrors.ClassifyStorage("insert playlist", err)
			}
			id, err = res.LastInsertId()
			return err
		}
		if err != nil {
			return apperrors.ClassifyStorage("find playlist", err)
		}

		if existing.CompetitorID != competitorID {
			return apperrors.Referential(apperrors.CodeCrossCompetitorReassignment,
				"playlist %s belongs to competitor %d, not %d", rec.PlaylistID, existing.CompetitorID, competitorID).
				WithDetails(map[string]any{"playlist_id": existing.ID, "competitor_id": existing.CompetitorID})
		}

		u := newUpdate("playlists")
		u.setString("name", rec.Name)
		u.setString("category", rec.Category)
		u.set("last_updated", now)
		if err := u.exec(ctx, tx, existing.ID); err != nil {
			return err
		}
		id = existing.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Link adds a video to a playlist. An existing link is left as is. A new
// link also refreshes the playlist's video_count.
func (k *Sink) Link(ctx context.Context, playlistID, videoID int64, position *int) error {
	if position != nil && *position < 0 {
		return apperrors.Validation(apperrors.CodeNegativeCount, "position is negative (%d)", *position)
	}

	return k.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var found struct {
			Playlists int `db:"playlists"`
			Videos    int `db:"videos"`
		}
		err := tx.GetContext(ctx, &found, `
			SELECT (SELECT COUNT(*) FROM playlists WHERE id = ?) AS playlists,
			       (SELECT COUNT(*) FROM videos WHERE id = ?) AS videos`,
			playlistID, videoID)
		if err != nil {
			return apperrors.ClassifyStorage("check link endpoints", err)
		}
		if found.Playlists == 0 {
			return apperrors.Referential(apperrors.CodeDanglingReference, "playlist %d does not exist", playlistID)
		}
		if found.Videos == 0 {
			return apperrors.Referential(apperrors.CodeDanglingReference, "video %d does not exist", videoID)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO playlist_videos (playlist_id, video_id, position, added_at)
			VALUES (?, ?, ?, ?)`,
			playlistID, videoID, position, store.Now())
		if err != nil {
			return apperrors.ClassifyStorage("insert link", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE playlists
			SET video_count = (SELECT COUNT(*) FROM playlist_videos WHERE playlist_id = playlists.id),
			    last_updated = ?
			WHERE id = ?`,
			store.Now(), playlistID)
		return apperrors.ClassifyStorage("refresh playlist count", err)
	})
}

// LookupCompetitor returns the id of the competitor with the given channel id.
func (k *Sink) LookupCompetitor(ctx context.Context, channelID string) (int64, error) {
	return lookup(ctx, k.store.DB(), "competitors", "channel_id", channelID)
}

// LookupVideo returns the id of the video with the given external id.
func (k *Sink) LookupVideo(ctx context.Context, videoID string) (int64, error) {
	return lookup(ctx, k.store.DB(), "videos", "video_id", videoID)
}

func lookup(ctx context.Context, q sqlx.QueryerContext, table, column, key string) (int64, error) {
	var id int64
	err := sqlx.GetContext(ctx, q, &id, "SELECT id FROM "+table+" WHERE "+column+" = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperrors.Referential(apperrors.CodeDanglingReference, "%s %s=%q does not exist", table, column, key)
	}
	if err != nil {
		return 0, apperrors.ClassifyStorage("lookup "+table, err)
	}
	return id, nil
}

func competitorExists(ctx context.Context, tx *sqlx.Tx, id int64) error {
	var n int
	if err := tx.GetContext(ctx, &n, "SELECT COUNT(*) FROM competitors WHERE id = ?", id); err != nil {
		return apperrors.ClassifyStorage("check competitor", err)
	}
	if n == 0 {
		return apperrors.Referential(apperrors.CodeDanglingReference, "competitor %d does not exist", id).
			WithDetails(map[string]any{"competitor_id": id})
	}
	return nil
}

func uniqueURL(ctx context.Context, tx *sqlx.Tx, url, channelID string) error {
	var owner string
	err := tx.GetContext(ctx, &owner, "SELECT channel_id FROM competitors WHERE channel_url = ?", url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return apperrors.ClassifyStorage("check channel_url", err)
	}
	return apperrors.Validation(apperrors.CodeDuplicateKey,
		"channel_url %q already belongs to %s, not %s", url, owner, channelID)
}

// update collects "column = ?" assignments for the non-nil fields of a record.
type update struct {
	table string
	cols  []string
	args  []any
}

func newUpdate(table string) *update {
	return &update{table: table}
}

func (u *update) set(col string, v any) {
	u.cols = append(u.cols, col+" = ?")
	u.args = append(u.args, v)
}

func (u *update) setString(col string, v *string) {
	if v != nil {
		u.set(col, *v)
	}
}

func (u *update) setInt(col string, v *int64) {
	if v != nil {
		u.set(col, *v)
	}
}

func (u *update) exec(ctx context.Context, tx *sqlx.Tx, id int64) error {
	query := "UPDATE " + u.table + " SET " + strings.Join(u.cols, ", ") + " WHERE id = ?"
	if _, err := tx.ExecContext(ctx, query, append(u.args, id)...); err != nil {
		return apperrors.ClassifyStorage("update "+u.table, err)
	}
	return nil
}
