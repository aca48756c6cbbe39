// Package frequency computes per-competitor publishing cadence and
// engagement metrics and maintains the frequency_stats cache.
package frequency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/elonfeng/ytradar/internal/errors"
	"github.com/elonfeng/ytradar/internal/store"
)

// Engine rebuilds frequency_stats rows from video rows.
type Engine struct {
	store *store.Store
	log   *slog.Logger
	now   func() time.Time
}

// NewEngine creates a frequency engine.
func NewEngine(s *store.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: s, log: logger, now: time.Now}
}

// RunReport summarizes a full engine run.
type RunReport struct {
	Updated  int              `json:"updated"`
	Removed  int              `json:"removed"`
	Failures map[int64]string `json:"failures,omitempty"`
}

// Run recomputes every competitor. A failing competitor is logged and
// skipped so the cache converges on the next run.
func (e *Engine) Run(ctx context.Context) (*RunReport, error) {
	var ids []int64
	if err := e.store.DB().SelectContext(ctx, &ids, "SELECT id FROM competitors ORDER BY id"); err != nil {
		return nil, apperrors.ClassifyStorage("list competitors", err)
	}

	rep := &RunReport{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		stats, err := e.RunCompetitor(ctx, id)
		if err != nil {
			if apperrors.IsRetryable(err) {
				return rep, err
			}
			e.log.Error("frequency computation failed", "competitor_id", id, "err", err)
			if rep.Failures == nil {
				rep.Failures = make(map[int64]string)
			}
			rep.Failures[id] = err.Error()
			continue
		}
		if stats == nil {
			rep.Removed++
			continue
		}
		rep.Updated++
	}

	e.log.Info("frequency stats rebuilt", "updated", rep.Updated, "empty", rep.Removed, "failures", len(rep.Failures))
	return rep, nil
}

// RunCompetitor recomputes one competitor inside a single transaction. A
// competitor without videos gets no row; a stale row is deleted and nil is
// returned.
func (e *Engine) RunCompetitor(ctx context.Context, competitorID int64) (*store.FrequencyStats, error) {
	var out *store.FrequencyStats
	err := e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := store.GetCompetitor(ctx, tx, competitorID); err != nil {
			return err
		}

		videos, err := loadVideos(ctx, tx, competitorID)
		if err != nil {
			return err
		}
		if len(videos) == 0 {
			_, err := tx.ExecContext(ctx, "DELETE FROM frequency_stats WHERE competitor_id = ?", competitorID)
			return apperrors.ClassifyStorage("delete frequency stats", err)
		}

		stats := Compute(videos).Stats(competitorID, e.now())
		if err := upsertStats(ctx, tx, &stats); err != nil {
			return err
		}
		out = &stats
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func loadVideos(ctx context.Context, tx *sqlx.Tx, competitorID int64) ([]DatedVideo, error) {
	var rows []struct {
		PublishedAt        store.NullTime `db:"published_at"`
		YouTubePublishedAt store.NullTime `db:"youtube_published_at"`
		Category           *string        `db:"category"`
	}
	err := tx.SelectContext(ctx, &rows,
		"SELECT published_at, youtube_published_at, category FROM videos WHERE competitor_id = ? ORDER BY id",
		competitorID)
	if err != nil {
		return nil, apperrors.ClassifyStorage("load videos", err)
	}

	out := make([]DatedVideo, len(rows))
	for i, r := range rows {
		v := store.Video{PublishedAt: r.PublishedAt, YouTubePublishedAt: r.YouTubePublishedAt}
		out[i] = DatedVideo{Date: v.EffectiveDate().Ptr(), Category: r.Category}
	}
	return out, nil
}

func upsertStats(ctx context.Context, tx *sqlx.Tx, fs *store.FrequencyStats) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO frequency_stats (competitor_id, total_videos, total_weeks, avg_videos_per_week,
		                             hero_count, hub_count, help_count, hero_per_week, hub_per_week, help_per_week,
		                             first_published, last_published, calculation_method, last_updated)
		VALUES (:competitor_id, :total_videos, :total_weeks, :avg_videos_per_week,
		        :hero_count, :hub_count, :help_count, :hero_per_week, :hub_per_week, :help_per_week,
		        :first_published, :last_published, :calculation_method, :last_updated)
		ON CONFLICT(competitor_id) DO UPDATE SET
		    total_videos = excluded.total_videos,
		    total_weeks = excluded.total_weeks,
		    avg_videos_per_week = excluded.avg_videos_per_week,
		    hero_count = excluded.hero_count,
		    hub_count = excluded.hub_count,
		    help_count = excluded.help_count,
		    hero_per_week = excluded.hero_per_week,
		    hub_per_week = excluded.hub_per_week,
		    help_per_week = excluded.help_per_week,
		    first_published = excluded.first_published,
		    last_published = excluded.last_published,
		    calculation_method = excluded.calculation_method,
		    last_updated = excluded.last_updated`, fs)
	if err != nil {
		return apperrors.ClassifyStorage(fmt.Sprintf("upsert frequency stats for %d", fs.CompetitorID), err)
	}
	return nil
}
