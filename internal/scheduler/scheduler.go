// Package scheduler runs the periodic collect and analyze cycles.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/elonfeng/ytradar/internal/errors"
	"github.com/elonfeng/ytradar/internal/history"
	"github.com/elonfeng/ytradar/internal/ingest"
	"github.com/elonfeng/ytradar/internal/reconcile"
	"github.com/elonfeng/ytradar/pkg/alert"
	"github.com/elonfeng/ytradar/pkg/frequency"
	"github.com/elonfeng/ytradar/pkg/quality"
	"github.com/elonfeng/ytradar/pkg/source"
)

// Deps are the components a Scheduler drives.
type Deps struct {
	Sources    []source.Source
	Sink       *ingest.Sink
	Recorder   *history.Recorder
	Reconciler *reconcile.Reconciler
	Frequency  *frequency.Engine
	Validator  *quality.Validator
	Alerts     *alert.Manager
}

// Options tune the cycles.
type Options struct {
	CollectInterval time.Duration
	AnalyzeInterval time.Duration
	// MinScore is the quality score below which alerts are sent.
	MinScore int
}

// Scheduler runs periodic collection and analysis.
type Scheduler struct {
	deps       Deps
	log        *slog.Logger
	collectInt time.Duration
	analyzeInt time.Duration
	minScore   int
}

// New creates a new scheduler.
func New(deps Deps, opts Options, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CollectInterval <= 0 {
		opts.CollectInterval = 6 * time.Hour
	}
	if opts.AnalyzeInterval <= 0 {
		opts.AnalyzeInterval = 24 * time.Hour
	}
	return &Scheduler{
		deps:       deps,
		log:        logger,
		collectInt: opts.CollectInterval,
		analyzeInt: opts.AnalyzeInterval,
		minScore:   opts.MinScore,
	}
}

// CollectReport summarizes one collect cycle.
type CollectReport struct {
	RunID     string                `json:"run_id"`
	Batches   []*ingest.BatchResult `json:"batches"`
	Snapshots int                   `json:"snapshots"`
	Errors    map[string]string     `json:"errors,omitempty"`
}

// AnalyzeReport summarizes one analyze cycle.
type AnalyzeReport struct {
	RunID     string               `json:"run_id"`
	Reconcile *reconcile.Report    `json:"reconcile"`
	Frequency *frequency.RunReport `json:"frequency"`
	Quality   *quality.Report      `json:"quality"`
	Alerted   bool                 `json:"alerted"`
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	collectTicker := time.NewTicker(s.collectInt)
	analyzeTicker := time.NewTicker(s.analyzeInt)
	defer collectTicker.Stop()
	defer analyzeTicker.Stop()

	// Run immediately on start.
	s.collect(ctx)
	s.analyze(ctx)

	s.log.Info("scheduler running",
		"collect_interval", s.collectInt.String(),
		"analyze_interval", s.analyzeInt.String())

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return ctx.Err()
		case <-collectTicker.C:
			s.collect(ctx)
		case <-analyzeTicker.C:
			s.analyze(ctx)
		}
	}
}

func (s *Scheduler) collect(ctx context.Context) {
	if _, err := s.Collect(ctx); err != nil && ctx.Err() == nil {
		s.log.Error("collect cycle aborted", "err", err)
	}
}

func (s *Scheduler) analyze(ctx context.Context) {
	if _, err := s.Analyze(ctx); err != nil && ctx.Err() == nil {
		s.log.Error("analyze cycle aborted", "err", err)
	}
}

// Collect imports every source, applies the batches and snapshots the
// competitors each batch touched. A failing source is logged and skipped;
// storage failures that are worth retrying abort the cycle.
func (s *Scheduler) Collect(ctx context.Context) (*CollectReport, error) {
	rep := &CollectReport{RunID: uuid.NewString()}
	log := s.log.With("run_id", rep.RunID, "cycle", "collect")
	start := time.Now()

	for _, src := range s.deps.Sources {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		batch, err := src.Collect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			log.Error("source failed", "source", src.Name(), "err", err)
			rep.fail(src.Name(), err)
			continue
		}

		res, err := s.deps.Sink.ApplyBatch(ctx, batch)
		if res != nil {
			rep.Batches = append(rep.Batches, res)
		}
		if err != nil {
			return rep, fmt.Errorf("apply %s batch: %w", src.Name(), err)
		}

		for _, id := range res.CompetitorIDs {
			if _, err := s.deps.Recorder.RecordCurrent(ctx, id, "collect "+src.Name()); err != nil {
				if apperrors.IsRetryable(err) || ctx.Err() != nil {
					return rep, err
				}
				log.Debug("snapshot skipped", "competitor_id", id, "err", err)
				continue
			}
			rep.Snapshots++
		}

		log.Info("source collected",
			"source", src.Name(),
			"competitors", res.Competitors,
			"videos", res.Videos,
			"playlists", res.Playlists,
			"failures", len(res.Failures))
	}

	log.Info("collect cycle finished",
		"sources", len(s.deps.Sources),
		"snapshots", rep.Snapshots,
		"errors", len(rep.Errors),
		"elapsed", time.Since(start).String())
	return rep, nil
}

func (r *CollectReport) fail(name string, err error) {
	if r.Errors == nil {
		r.Errors = make(map[string]string)
	}
	r.Errors[name] = err.Error()
}

// Analyze reconciles playlists, rebuilds frequency stats and validates the
// dataset. A notification is broadcast when the score is below the minimum.
func (s *Scheduler) Analyze(ctx context.Context) (*AnalyzeReport, error) {
	rep := &AnalyzeReport{RunID: uuid.NewString()}
	log := s.log.With("run_id", rep.RunID, "cycle", "analyze")

	var err error
	if rep.Reconcile, err = s.deps.Reconciler.Reconcile(ctx); err != nil {
		return rep, fmt.Errorf("reconcile: %w", err)
	}
	if rep.Frequency, err = s.deps.Frequency.Run(ctx); err != nil {
		return rep, fmt.Errorf("frequency: %w", err)
	}
	if rep.Quality, err = s.deps.Validator.Validate(ctx); err != nil {
		return rep, fmt.Errorf("validate: %w", err)
	}

	log.Info("analyze cycle finished",
		"playlists_created", len(rep.Reconcile.Created),
		"counts_fixed", rep.Reconcile.CountsFixed,
		"frequency_updated", rep.Frequency.Updated,
		"quality_score", rep.Quality.Score)

	if rep.Quality.Score >= s.minScore || !s.deps.Alerts.HasNotifiers() {
		return rep, nil
	}
	n := alert.QualityNotification(rep.Quality, s.minScore, rep.RunID)
	if err := s.deps.Alerts.Broadcast(ctx, n); err != nil {
		log.Error("quality alert failed", "score", rep.Quality.Score, "err", err)
		return rep, nil
	}
	rep.Alerted = true
	log.Info("quality alert sent", "score", rep.Quality.Score, "min_score", s.minScore)
	return rep, nil
}
