// Package reconcile keeps playlists consistent with primary data: every
// competitor that owns videos gets a playlist covering them, and every
// playlist's video_count matches its membership.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/elonfeng/ytradar/internal/errors"
	"github.com/elonfeng/ytradar/internal/store"
)

// DefaultExcludeNamePatterns mark synthetic or test competitors.
var DefaultExcludeNamePatterns = []string{"Test", "Topic Analysis"}

// AllVideosSuffix is appended to the competitor id to form the external id
// of the back-filled playlist.
const AllVideosSuffix = "_all_videos"

// Options configure a Reconciler.
type Options struct {
	// ExcludeNamePatterns are case-sensitive substrings of competitor names
	// that are never back-filled. Nil uses DefaultExcludeNamePatterns; an
	// empty non-nil slice excludes nothing.
	ExcludeNamePatterns []string
}

// Reconciler back-fills playlists and repairs cached counts.
type Reconciler struct {
	store    *store.Store
	log      *slog.Logger
	patterns []string
}

// New creates a Reconciler.
func New(s *store.Store, opts Options, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	patterns := opts.ExcludeNamePatterns
	if patterns == nil {
		patterns = DefaultExcludeNamePatterns
	}
	return &Reconciler{store: s, log: logger, patterns: patterns}
}

// Candidate is a competitor that owns videos but no playlist.
type Candidate struct {
	ID     int64  `db:"id" json:"competitor_id"`
	Name   string `db:"name" json:"name"`
	Videos int64  `db:"videos" json:"videos"`
}

// Drift is a playlist whose stored count differs from its membership.
type Drift struct {
	PlaylistID int64  `db:"id" json:"playlist_id"`
	ExternalID string `db:"playlist_id" json:"external_id"`
	Stored     int64  `db:"video_count" json:"stored"`
	Actual     int64  `db:"actual" json:"actual"`
}

// CreatedPlaylist describes a back-filled playlist.
type CreatedPlaylist struct {
	CompetitorID int64  `json:"competitor_id"`
	PlaylistID   int64  `json:"playlist_id"`
	ExternalID   string `json:"external_id"`
	Links        int64  `json:"links"`
}

// TopUp is an existing all-videos playlist that is missing some of its
// competitor's videos.
type TopUp struct {
	CompetitorID int64  `db:"competitor_id" json:"competitor_id"`
	PlaylistID   int64  `db:"id" json:"playlist_id"`
	ExternalID   string `db:"playlist_id" json:"external_id"`
	Missing      int64  `db:"missing" json:"missing"`
}

// Failure is a competitor the run could not back-fill.
type Failure struct {
	CompetitorID int64  `json:"competitor_id"`
	Error        string `json:"error"`
}

// Report summarizes a Reconcile run.
type Report struct {
	Created     []CreatedPlaylist `json:"created"`
	ToppedUp    []TopUp           `json:"topped_up,omitempty"`
	LinksAdded  int64             `json:"links_added"`
	CountsFixed int64             `json:"counts_fixed"`
	Skipped     []Candidate       `json:"skipped,omitempty"`
	Failures    []Failure         `json:"failures,omitempty"`
	Pending     []Candidate       `json:"pending,omitempty"`
	Drifting    []Drift           `json:"drifting,omitempty"`
	DryRun      bool              `json:"dry_run,omitempty"`
}

// Excluded reports whether a competitor name matches an exclusion pattern.
func (r *Reconciler) Excluded(name string) bool {
	for _, p := range r.patterns {
		if p != "" && strings.Contains(name, p) {
			return true
		}
	}
	return false
}

// Check reports, without writing, which competitors would be back-filled,
// which are skipped and which playlists drift.
func (r *Reconciler) Check(ctx context.Context) (*Report, error) {
	rep := &Report{DryRun: true}

	candidates, err := r.candidates(ctx, r.store.DB())
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if r.Excluded(c.Name) {
			rep.Skipped = append(rep.Skipped, c)
			continue
		}
		rep.Pending = append(rep.Pending, c)
	}

	rep.ToppedUp, err = incomplete(ctx, r.store.DB())
	if err != nil {
		return nil, err
	}
	rep.Drifting, err = drifting(ctx, r.store.DB())
	if err != nil {
		return nil, err
	}
	return rep, nil
}

// Reconcile back-fills an "all videos" playlist for every eligible competitor
// with videos and no playlist, links videos imported since into existing
// "all videos" playlists, then brings every playlist's video_count in line
// with its membership. Each competitor is handled in its own
// transaction; failures are logged and the run continues.
func (r *Reconciler) Reconcile(ctx context.Context) (*Report, error) {
	rep := &Report{}

	candidates, err := r.candidates(ctx, r.store.DB())
	if err != nil {
		return nil, err
	}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if r.Excluded(c.Name) {
			r.log.Info("competitor excluded from back-fill", "competitor_id", c.ID, "name", c.Name)
			rep.Skipped = append(rep.Skipped, c)
			continue
		}

		created, err := r.backfill(ctx, c)
		if err != nil {
			if apperrors.IsRetryable(err) || ctx.Err() != nil {
				return rep, err
			}
			r.log.Error("back-fill failed", "competitor_id", c.ID, "err", err)
			rep.Failures = append(rep.Failures, Failure{CompetitorID: c.ID, Error: err.Error()})
			continue
		}
		r.log.Info("playlist back-filled",
			"competitor_id", c.ID,
			"playlist_id", created.ExternalID,
			"links", created.Links)
		rep.Created = append(rep.Created, *created)
		rep.LinksAdded += created.Links
	}

	stale, err := incomplete(ctx, r.store.DB())
	if err != nil {
		return rep, err
	}
	for _, u := range stale {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		links, err := r.topUp(ctx, u)
		if err != nil {
			if apperrors.IsRetryable(err) || ctx.Err() != nil {
				return rep, err
			}
			r.log.Error("playlist top-up failed", "competitor_id", u.CompetitorID, "err", err)
			rep.Failures = append(rep.Failures, Failure{CompetitorID: u.CompetitorID, Error: err.Error()})
			continue
		}
		r.log.Info("playlist topped up",
			"competitor_id", u.CompetitorID,
			"playlist_id", u.ExternalID,
			"links", links)
		u.Missing = links
		rep.ToppedUp = append(rep.ToppedUp, u)
		rep.LinksAdded += links
	}

	fixed, err := r.FixCounts(ctx)
	if err != nil {
		return rep, err
	}
	rep.CountsFixed = fixed

	r.log.Info("reconciliation finished",
		"created", len(rep.Created),
		"topped_up", len(rep.ToppedUp),
		"links_added", rep.LinksAdded,
		"counts_fixed", rep.CountsFixed,
		"skipped", len(rep.Skipped),
		"failures", len(rep.Failures))
	return rep, nil
}

// FixCounts sets video_count to the membership cardinality for every
// playlist that drifts and returns how many rows changed. Playlists already
// in agreement keep their last_updated.
func (r *Reconciler) FixCounts(ctx context.Context) (int64, error) {
	var n int64
	err := r.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE playlists
			SET video_count = (SELECT COUNT(*) FROM playlist_videos pv WHERE pv.playlist_id = playlists.id),
			    last_updated = ?
			WHERE video_count <> (SELECT COUNT(*) FROM playlist_videos pv WHERE pv.playlist_id = playlists.id)`,
			store.Now())
		if err != nil {
			return apperrors.ClassifyStorage("fix playlist counts", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func (r *Reconciler) backfill(ctx context.Context, c Candidate) (*CreatedPlaylist, error) {
	created := &CreatedPlaylist{
		CompetitorID: c.ID,
		ExternalID:   fmt.Sprintf("%d%s", c.ID, AllVideosSuffix),
	}

	err := r.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		now := store.Now()

		// Re-check inside the transaction; another pass may have filled it.
		var playlists int
		if err := tx.GetContext(ctx, &playlists,
			"SELECT COUNT(*) FROM playlists WHERE competitor_id = ?", c.ID); err != nil {
			return apperrors.ClassifyStorage("count playlists", err)
		}
		if playlists > 0 {
			return apperrors.Conflict(apperrors.CodeDuplicateKey, "competitor %d already has a playlist", c.ID)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO playlists (competitor_id, playlist_id, name, category, video_count, created_at, last_updated)
			VALUES (?, ?, ?, ?, 0, ?, ?)`,
			c.ID, created.ExternalID, "All Videos - "+c.Name, string(store.CategoryHub), now, now)
		if err != nil {
			return apperrors.ClassifyStorage("insert playlist", err)
		}
		if created.PlaylistID, err = res.LastInsertId(); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO playlist_videos (playlist_id, video_id, position, added_at)
			SELECT ?, v.id, NULL, ? FROM videos v WHERE v.competitor_id = ?`,
			created.PlaylistID, now, c.ID)
		if err != nil {
			return apperrors.ClassifyStorage("link videos", err)
		}
		if created.Links, err = res.RowsAffected(); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, "UPDATE playlists SET video_count = ? WHERE id = ?",
			created.Links, created.PlaylistID)
		return apperrors.ClassifyStorage("set playlist count", err)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// topUp links the competitor's unlinked videos into its all-videos playlist.
// The count is left to FixCounts.
func (r *Reconciler) topUp(ctx context.Context, u TopUp) (int64, error) {
	var links int64
	err := r.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO playlist_videos (playlist_id, video_id, position, added_at)
			SELECT ?, v.id, NULL, ? FROM videos v WHERE v.competitor_id = ?`,
			u.PlaylistID, store.Now(), u.CompetitorID)
		if err != nil {
			return apperrors.ClassifyStorage("link new videos", err)
		}
		links, err = res.RowsAffected()
		return err
	})
	return links, err
}

func (r *Reconciler) candidates(ctx context.Context, q sqlx.QueryerContext) ([]Candidate, error) {
	var out []Candidate
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT c.id, c.name, COUNT(v.id) AS videos
		FROM competitors c
		JOIN videos v ON v.competitor_id = c.id
		WHERE NOT EXISTS (SELECT 1 FROM playlists p WHERE p.competitor_id = c.id)
		GROUP BY c.id, c.name
		ORDER BY c.id`)
	if err != nil {
		return nil, apperrors.ClassifyStorage("find reconciliation candidates", err)
	}
	return out, nil
}

func incomplete(ctx context.Context, q sqlx.QueryerContext) ([]TopUp, error) {
	var out []TopUp
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT id, playlist_id, competitor_id, missing FROM (
			SELECT p.id, p.playlist_id, p.competitor_id,
			       (SELECT COUNT(*) FROM videos v
			        WHERE v.competitor_id = p.competitor_id
			          AND NOT EXISTS (SELECT 1 FROM playlist_videos pv
			                          WHERE pv.playlist_id = p.id AND pv.video_id = v.id)) AS missing
			FROM playlists p
			WHERE p.playlist_id = CAST(p.competitor_id AS TEXT) || ?
		)
		WHERE missing > 0
		ORDER BY competitor_id`, AllVideosSuffix)
	if err != nil {
		return nil, apperrors.ClassifyStorage("find incomplete playlists", err)
	}
	return out, nil
}

func drifting(ctx context.Context, q sqlx.QueryerContext) ([]Drift, error) {
	var out []Drift
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT p.id, p.playlist_id, p.video_count,
		       (SELECT COUNT(*) FROM playlist_videos pv WHERE pv.playlist_id = p.id) AS actual
		FROM playlists p
		WHERE p.video_count <> (SELECT COUNT(*) FROM playlist_videos pv WHERE pv.playlist_id = p.id)
		ORDER BY p.id`)
	if err != nil {
		return nil, apperrors.ClassifyStorage("find drifting playlists", err)
	}
	return out, nil
}
