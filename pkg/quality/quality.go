// Package quality scores the integrity of the stored data set. It only reads.
package quality

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/elonfeng/ytradar/internal/errors"
	"github.com/elonfeng/ytradar/internal/store"
)

// MaxSamples caps the offending ids listed per check.
const MaxSamples = 20

// Check names.
const (
	CheckImpossibleEngagement = "impossible_engagement"
	CheckPhantomEngagement    = "phantom_engagement"
	CheckMissingStats         = "missing_stats"
	CheckPlaylistDrift        = "playlist_count_drift"
	CheckInvalidNumerics      = "invalid_numerics"
	CheckImplausibleRatio     = "implausible_ratio"
)

// Penalty is subtracted from the score when a check's count exceeds Above.
type Penalty struct {
	Points int   `yaml:"points" mapstructure:"points" json:"points"`
	Above  int64 `yaml:"above" mapstructure:"above" json:"above"`
}

// Thresholds configure scoring.
type Thresholds struct {
	ImpossibleEngagement Penalty `yaml:"impossible_engagement" mapstructure:"impossible_engagement" json:"impossible_engagement"`
	PhantomEngagement    Penalty `yaml:"phantom_engagement" mapstructure:"phantom_engagement" json:"phantom_engagement"`
	MissingStats         Penalty `yaml:"missing_stats" mapstructure:"missing_stats" json:"missing_stats"`
	PlaylistDrift        Penalty `yaml:"playlist_drift" mapstructure:"playlist_drift" json:"playlist_drift"`
	ImplausibleRatio     Penalty `yaml:"implausible_ratio" mapstructure:"implausible_ratio" json:"implausible_ratio"`
	// MaxLikeRatio is the like/view ratio above which a video is implausible.
	MaxLikeRatio float64 `yaml:"max_like_ratio" mapstructure:"max_like_ratio" json:"max_like_ratio"`
}

// DefaultThresholds returns the standard scoring rules.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ImpossibleEngagement: Penalty{Points: 20, Above: 0},
		PhantomEngagement:    Penalty{Points: 15, Above: 0},
		MissingStats:         Penalty{Points: 10, Above: 0},
		PlaylistDrift:        Penalty{Points: 10, Above: 5},
		ImplausibleRatio:     Penalty{Points: 5, Above: 10},
		MaxLikeRatio:         0.20,
	}
}

// Validate checks the thresholds are usable.
func (t Thresholds) Validate() error {
	for name, p := range map[string]Penalty{
		CheckImpossibleEngagement: t.ImpossibleEngagement,
		CheckPhantomEngagement:    t.PhantomEngagement,
		CheckMissingStats:         t.MissingStats,
		CheckPlaylistDrift:        t.PlaylistDrift,
		CheckImplausibleRatio:     t.ImplausibleRatio,
	} {
		if p.Points < 0 || p.Above < 0 {
			return apperrors.Validation(apperrors.CodeInvalidConfig, "quality threshold %s must not be negative", name)
		}
	}
	if t.MaxLikeRatio <= 0 {
		return apperrors.Validation(apperrors.CodeInvalidConfig, "max_like_ratio must be positive, got %v", t.MaxLikeRatio)
	}
	return nil
}

// Result is the outcome of one check.
type Result struct {
	Name    string  `json:"name"`
	Count   int64   `json:"count"`
	Penalty int     `json:"penalty"`
	Samples []int64 `json:"samples,omitempty"`
}

// Report is the full quality assessment.
type Report struct {
	Score  int      `json:"score"`
	Checks []Result `json:"checks"`
}

// Check returns the named result, or nil.
func (r *Report) Check(name string) *Result {
	for i := range r.Checks {
		if r.Checks[i].Name == name {
			return &r.Checks[i]
		}
	}
	return nil
}

// Issues returns one line per failing check.
func (r *Report) Issues() []string {
	var out []string
	for _, c := range r.Checks {
		if c.Count == 0 {
			continue
		}
		line := fmt.Sprintf("%s: %d", c.Name, c.Count)
		if c.Penalty > 0 {
			line += fmt.Sprintf(" (-%d)", c.Penalty)
		}
		out = append(out, line)
	}
	return out
}

// Validator runs the checks.
type Validator struct {
	store      *store.Store
	thresholds Thresholds
	log        *slog.Logger
}

// New creates a Validator.
func New(s *store.Store, t Thresholds, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{store: s, thresholds: t, log: logger}
}

type check struct {
	name    string
	penalty *Penalty
	// query selects the offending ids.
	query string
	args  []any
}

func (v *Validator) checks() []check {
	t := v.thresholds
	return []check{
		{
			name:    CheckImpossibleEngagement,
			penalty: &t.ImpossibleEngagement,
			query:   "SELECT id FROM videos WHERE view_count > 0 AND like_count > view_count",
		},
		{
			name:    CheckPhantomEngagement,
			penalty: &t.PhantomEngagement,
			query:   "SELECT id FROM videos WHERE view_count = 0 AND (like_count > 0 OR comment_count > 0)",
		},
		{
			name:    CheckMissingStats,
			penalty: &t.MissingStats,
			query: `SELECT c.id FROM competitors c
				WHERE EXISTS (SELECT 1 FROM videos v WHERE v.competitor_id = c.id)
				  AND NOT EXISTS (SELECT 1 FROM frequency_stats f WHERE f.competitor_id = c.id)`,
		},
		{
			name:    CheckPlaylistDrift,
			penalty: &t.PlaylistDrift,
			query: `SELECT p.id FROM playlists p
				WHERE p.video_count <> (SELECT COUNT(*) FROM playlist_videos pv WHERE pv.playlist_id = p.id)`,
		},
		{
			// Video ids and competitor ids share the sample list; competitors
			// are negated so the two can be told apart.
			name: CheckInvalidNumerics,
			query: `SELECT id FROM videos
				WHERE view_count IS NULL OR like_count IS NULL OR comment_count IS NULL
				   OR view_count < 0 OR like_count < 0 OR comment_count < 0
				UNION ALL
				SELECT -id FROM competitors
				WHERE subscriber_count < 0 OR view_count < 0 OR video_count < 0`,
		},
		{
			name:    CheckImplausibleRatio,
			penalty: &t.ImplausibleRatio,
			query:   "SELECT id FROM videos WHERE view_count > 0 AND CAST(like_count AS REAL) / view_count > ?",
			args:    []any{t.MaxLikeRatio},
		},
	}
}

// Validate runs every check inside one read transaction and scores the
// result. Nothing is written.
func (v *Validator) Validate(ctx context.Context) (*Report, error) {
	tx, err := v.store.DB().BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperrors.ClassifyStorage("begin quality read", err)
	}
	defer func() { _ = tx.Rollback() }()

	rep := &Report{Score: 100}
	for _, c := range v.checks() {
		res, err := run(ctx, tx, c)
		if err != nil {
			return nil, err
		}
		rep.Checks = append(rep.Checks, res)
		rep.Score -= res.Penalty
	}
	if rep.Score < 0 {
		rep.Score = 0
	}

	v.log.Info("data quality validated", "score", rep.Score, "issues", len(rep.Issues()))
	return rep, nil
}

func run(ctx context.Context, tx *sqlx.Tx, c check) (Result, error) {
	res := Result{Name: c.name}
	if err := tx.GetContext(ctx, &res.Count, "SELECT COUNT(*) FROM ("+c.query+")", c.args...); err != nil {
		return res, apperrors.ClassifyStorage("quality check "+c.name, err)
	}
	if res.Count == 0 {
		return res, nil
	}
	args := append(append([]any(nil), c.args...), MaxSamples)
	if err := tx.SelectContext(ctx, &res.Samples, "SELECT * FROM ("+c.query+") ORDER BY 1 LIMIT ?", args...); err != nil {
		return res, apperrors.ClassifyStorage("quality samples "+c.name, err)
	}
	if c.penalty != nil && res.Count > c.penalty.Above {
		res.Penalty = c.penalty.Points
	}
	return res, nil
}
