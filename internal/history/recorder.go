// Package history appends point-in-time snapshots of competitor counts and
// derives deltas against the previous snapshot.
package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/elonfeng/ytradar/internal/errors"
	"github.com/elonfeng/ytradar/internal/store"
)

// minStep separates two snapshots of one competitor when the clock has not
// advanced past the previous recorded_at. It is the storage precision.
const minStep = time.Millisecond

// Recorder writes stats_history rows.
type Recorder struct {
	store *store.Store
	log   *slog.Logger
	now   func() time.Time
}

// New creates a Recorder.
func New(s *store.Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: s, log: logger, now: time.Now}
}

// Counts are the three tracked dimensions of a snapshot.
type Counts struct {
	Subscribers int64
	Views       int64
	Videos      int64
}

// Record appends a snapshot for the competitor. Deltas are taken against the
// latest prior snapshot, or zero when there is none.
func (r *Recorder) Record(ctx context.Context, competitorID, subs, views, vids int64, note string) (*store.Snapshot, error) {
	c := Counts{Subscribers: subs, Views: views, Videos: vids}
	if err := c.validate(); err != nil {
		return nil, err
	}

	var snap *store.Snapshot
	err := r.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := store.GetCompetitor(ctx, tx, competitorID); err != nil {
			if apperrors.GetCode(err) == apperrors.CodeNotFound {
				return apperrors.Referential(apperrors.CodeDanglingReference, "competitor %d does not exist", competitorID)
			}
			return err
		}
		var err error
		snap, err = r.insert(ctx, tx, competitorID, c, note)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.log.Debug("snapshot recorded",
		"competitor_id", competitorID,
		"subscriber_delta", snap.SubscriberDelta,
		"view_delta", snap.ViewDelta,
		"video_delta", snap.VideoDelta)
	return snap, nil
}

// RecordCurrent snapshots the counts currently stored on the competitor.
// Unknown counts are recorded as zero; a competitor with no known count at
// all is rejected.
func (r *Recorder) RecordCurrent(ctx context.Context, competitorID int64, note string) (*store.Snapshot, error) {
	var snap *store.Snapshot
	err := r.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		comp, err := store.GetCompetitor(ctx, tx, competitorID)
		if err != nil {
			return err
		}
		c, ok := countsOf(comp)
		if !ok {
			return apperrors.Validation(apperrors.CodeMissingField,
				"competitor %d has no known counts to snapshot", competitorID)
		}
		snap, err = r.insert(ctx, tx, competitorID, c, note)
		return err
	})
	return snap, err
}

// RecordAll snapshots every competitor with at least one known count.
// Per-competitor failures are logged and skipped.
func (r *Recorder) RecordAll(ctx context.Context, note string) (int, error) {
	var ids []int64
	err := r.store.DB().SelectContext(ctx, &ids, `
		SELECT id FROM competitors
		WHERE subscriber_count IS NOT NULL OR view_count IS NOT NULL OR video_count IS NOT NULL
		ORDER BY id`)
	if err != nil {
		return 0, apperrors.ClassifyStorage("list competitors with counts", err)
	}

	n := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if _, err := r.RecordCurrent(ctx, id, note); err != nil {
			if apperrors.IsRetryable(err) {
				return n, err
			}
			r.log.Warn("snapshot skipped", "competitor_id", id, "err", err)
			continue
		}
		n++
	}
	return n, nil
}

// Seed writes one zero-delta snapshot, marked as the initial seed, for every
// competitor that has known counts and no snapshot yet.
func (r *Recorder) Seed(ctx context.Context) (int, error) {
	var n int
	err := r.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		n, err = store.SeedSnapshots(ctx, tx, store.NewTime(r.now()))
		return err
	})
	if err != nil {
		return 0, err
	}
	r.log.Info("snapshots seeded", "count", n)
	return n, nil
}

// History returns the competitor's snapshots in recorded order. A zero since
// returns everything.
func (r *Recorder) History(ctx context.Context, competitorID int64, since time.Time) ([]store.Snapshot, error) {
	if _, err := r.store.GetCompetitor(ctx, competitorID); err != nil {
		return nil, err
	}
	return r.store.ListSnapshots(ctx, competitorID, since)
}

func (r *Recorder) insert(ctx context.Context, tx *sqlx.Tx, competitorID int64, c Counts, note string) (*store.Snapshot, error) {
	prior, err := store.LatestSnapshot(ctx, tx, competitorID)
	if err != nil {
		return nil, err
	}

	snap := &store.Snapshot{
		CompetitorID:    competitorID,
		RecordedAt:      store.NewTime(r.now()),
		SubscriberCount: c.Subscribers,
		ViewCount:       c.Views,
		VideoCount:      c.Videos,
	}
	if note != "" {
		snap.Notes = &note
	}
	if prior != nil {
		snap.SubscriberDelta = c.Subscribers - prior.SubscriberCount
		snap.ViewDelta = c.Views - prior.ViewCount
		snap.VideoDelta = c.Videos - prior.VideoCount
		if !snap.RecordedAt.After(prior.RecordedAt.Time) {
			snap.RecordedAt = store.NewTime(prior.RecordedAt.Add(minStep))
		}
	}

	res, err := tx.NamedExecContext(ctx, `
		INSERT INTO stats_history (competitor_id, recorded_at, subscriber_count, view_count, video_count,
		                           subscriber_delta, view_delta, video_delta, notes)
		VALUES (:competitor_id, :recorded_at, :subscriber_count, :view_count, :video_count,
		        :subscriber_delta, :view_delta, :video_delta, :notes)`, snap)
	if err != nil {
		return nil, apperrors.ClassifyStorage("insert snapshot", err)
	}
	snap.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (c Counts) validate() error {
	for name, v := range map[string]int64{
		"subscriber_count": c.Subscribers,
		"view_count":       c.Views,
		"video_count":      c.Videos,
	} {
		if v < 0 {
			return apperrors.Validation(apperrors.CodeNegativeCount, "%s is negative (%d)", name, v)
		}
	}
	return nil
}

func countsOf(c *store.Competitor) (Counts, bool) {
	if c.SubscriberCount == nil && c.ViewCount == nil && c.VideoCount == nil {
		return Counts{}, false
	}
	deref := func(p *int64) int64 {
		if p == nil {
			return 0
		}
		return *p
	}
	return Counts{
		Subscribers: deref(c.SubscriberCount),
		Views:       deref(c.ViewCount),
		Videos:      deref(c.VideoCount),
	}, true
}
