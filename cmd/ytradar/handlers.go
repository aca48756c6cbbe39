package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/ytradar/internal/config"
	"github.com/elonfeng/ytradar/internal/history"
	"github.com/elonfeng/ytradar/internal/ingest"
	"github.com/elonfeng/ytradar/internal/logging"
	"github.com/elonfeng/ytradar/internal/reconcile"
	"github.com/elonfeng/ytradar/internal/scheduler"
	"github.com/elonfeng/ytradar/internal/store"
	"github.com/elonfeng/ytradar/pkg/alert"
	"github.com/elonfeng/ytradar/pkg/frequency"
	"github.com/elonfeng/ytradar/pkg/quality"
	"github.com/elonfeng/ytradar/pkg/server"
	"github.com/elonfeng/ytradar/pkg/source"
)

// app bundles what every command needs.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	logClose io.Closer
	store    *store.Store
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	slog.SetDefault(logger)
	return &app{cfg: cfg, log: logger, logClose: closer}, nil
}

func (a *app) storeOptions(ctx context.Context, readOnly bool) (store.Options, error) {
	opts := store.Options{
		ReadOnly:    readOnly,
		LockTimeout: a.cfg.ParseLockTimeout(),
		Logger:      a.log,
	}
	if !readOnly && a.cfg.Backup.S3.Enabled {
		mirror, err := store.NewS3Mirror(ctx, a.cfg.Backup.S3.Mirror())
		if err != nil {
			return opts, fmt.Errorf("init backup mirror: %w", err)
		}
		opts.Mirror = mirror
	}
	return opts, nil
}

// open opens the configured database. Writers take the advisory lock.
func (a *app) open(ctx context.Context, readOnly bool) (*store.Store, error) {
	opts, err := a.storeOptions(ctx, readOnly)
	if err != nil {
		return nil, err
	}
	s, err := store.Open(a.cfg.DatabasePath, opts)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = s
	return s, nil
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
	a.logClose.Close()
}

// withStore runs fn against an open database.
func withStore(cmd *cobra.Command, readOnly bool, fn func(ctx context.Context, a *app, s *store.Store) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	s, err := a.open(ctx, readOnly)
	if err != nil {
		return err
	}
	return fn(ctx, a, s)
}

func buildSources(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]source.Source, error) {
	classifier := source.NewClassifier(cfg.Sources.Classifier.HeroKeywords, cfg.Sources.Classifier.HelpKeywords)
	var sources []source.Source

	if yt := cfg.Sources.YouTube; yt.Enabled {
		src, err := source.NewYouTube(ctx, source.YouTubeOptions{
			APIKey:            yt.APIKey,
			Channels:          yt.Channels,
			MaxVideos:         yt.MaxVideos,
			RequestsPerSecond: yt.RequestsPerSecond,
			BaseURL:           yt.BaseURL,
		}, classifier, logger)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	if f := cfg.Sources.Feeds; f.Enabled {
		sources = append(sources, source.NewFeed(f.BaseURL, f.Channels, classifier, logger))
	}

	return sources, nil
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func buildScheduler(a *app, s *store.Store, sources []source.Source) *scheduler.Scheduler {
	return scheduler.New(scheduler.Deps{
		Sources:    sources,
		Sink:       ingest.New(s, a.log),
		Recorder:   history.New(s, a.log),
		Reconciler: reconcile.New(s, reconcile.Options{ExcludeNamePatterns: a.cfg.ExcludeNamePatterns}, a.log),
		Frequency:  frequency.NewEngine(s, a.log),
		Validator:  quality.New(s, a.cfg.QualityThresholds, a.log),
		Alerts:     buildAlertManager(a.cfg),
	}, scheduler.Options{
		CollectInterval: a.cfg.Schedule.ParseCollectInterval(),
		AnalyzeInterval: a.cfg.Schedule.ParseAnalyzeInterval(),
		MinScore:        a.cfg.Alerts.MinScore,
	}, a.log)
}

func runInit(cmd *cobra.Command, strict bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	opts, err := a.storeOptions(ctx, false)
	if err != nil {
		return err
	}
	s, err := store.Initialize(ctx, a.cfg.DatabasePath, strict, opts)
	if err != nil {
		return err
	}
	a.store = s

	version, err := s.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "initialized %s at schema version %d\n", s.Path(), version)
	return nil
}

func runMigrate(cmd *cobra.Command, target int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	opts, err := a.storeOptions(ctx, false)
	if err != nil {
		return err
	}
	res, err := store.Migrate(ctx, a.cfg.DatabasePath, target, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(res.Applied) == 0 {
		fmt.Fprintf(out, "schema already at version %d\n", res.To)
		return nil
	}
	fmt.Fprintf(out, "migrated %d -> %d (applied %v)\n", res.From, res.To, res.Applied)
	if res.BackupPath != "" {
		fmt.Fprintf(out, "backup: %s\n", res.BackupPath)
	}
	return nil
}

func runIngest(cmd *cobra.Command, path string, snapshot bool) error {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open batch: %w", err)
		}
		defer f.Close()
		r = f
	}
	batch, err := ingest.DecodeBatch(r)
	if err != nil {
		return err
	}

	return withStore(cmd, false, func(ctx context.Context, a *app, s *store.Store) error {
		res, err := ingest.New(s, a.log).ApplyBatch(ctx, batch)
		if err != nil {
			return err
		}
		if snapshot {
			rec := history.New(s, a.log)
			for _, id := range res.CompetitorIDs {
				if _, err := rec.RecordCurrent(ctx, id, "ingest"); err != nil {
					a.log.Warn("snapshot skipped", "competitor_id", id, "err", err)
				}
			}
		}
		return printJSON(cmd, res)
	})
}

func runSnapshot(cmd *cobra.Command, competitor int64, note string) error {
	return withStore(cmd, false, func(ctx context.Context, a *app, s *store.Store) error {
		rec := history.New(s, a.log)
		if competitor != 0 {
			snap, err := rec.RecordCurrent(ctx, competitor, note)
			if err != nil {
				return err
			}
			return printJSON(cmd, snap)
		}
		n, err := rec.RecordAll(ctx, note)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "recorded %d snapshots\n", n)
		return nil
	})
}

func runSeed(cmd *cobra.Command) error {
	return withStore(cmd, false, func(ctx context.Context, a *app, s *store.Store) error {
		n, err := history.New(s, a.log).Seed(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %d competitors\n", n)
		return nil
	})
}

func runReconcile(cmd *cobra.Command, dryRun bool) error {
	return withStore(cmd, dryRun, func(ctx context.Context, a *app, s *store.Store) error {
		r := reconcile.New(s, reconcile.Options{ExcludeNamePatterns: a.cfg.ExcludeNamePatterns}, a.log)
		var (
			rep *reconcile.Report
			err error
		)
		if dryRun {
			rep, err = r.Check(ctx)
		} else {
			rep, err = r.Reconcile(ctx)
		}
		if err != nil {
			return err
		}
		return printJSON(cmd, rep)
	})
}

func runFrequency(cmd *cobra.Command, competitor int64) error {
	return withStore(cmd, false, func(ctx context.Context, a *app, s *store.Store) error {
		engine := frequency.NewEngine(s, a.log)
		if competitor != 0 {
			stats, err := engine.RunCompetitor(ctx, competitor)
			if err != nil {
				return err
			}
			if stats == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "competitor %d has no videos\n", competitor)
				return nil
			}
			return printJSON(cmd, stats)
		}
		rep, err := engine.Run(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, rep)
	})
}

func runValidate(cmd *cobra.Command, jsonOutput bool) error {
	return withStore(cmd, true, func(ctx context.Context, a *app, s *store.Store) error {
		rep, err := quality.New(s, a.cfg.QualityThresholds, a.log).Validate(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, rep)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "quality score: %d/100\n", rep.Score)
		issues := rep.Issues()
		if len(issues) == 0 {
			fmt.Fprintln(out, "no issues found")
			return nil
		}
		for _, issue := range issues {
			fmt.Fprintf(out, "  %s\n", issue)
		}
		return nil
	})
}

func runCompetitors(cmd *cobra.Command, name string, limit int, jsonOutput bool) error {
	return withStore(cmd, true, func(ctx context.Context, a *app, s *store.Store) error {
		comps, err := s.ListCompetitors(ctx, store.CompetitorListOpts{NameContains: name, Limit: limit})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, comps)
		}
		if len(comps) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no competitors found (try importing data first: ytradar ingest FILE)")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSUBSCRIBERS\tVIDEOS\tPLAYLISTS\tPER WEEK\tMETHOD")
		for _, c := range comps {
			perWeek, method := "-", "-"
			if c.Frequency != nil {
				perWeek = strconv.FormatFloat(c.Frequency.AvgVideosPerWeek, 'f', 2, 64)
				method = c.Frequency.CalculationMethod
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\t%s\n",
				c.ID, c.Name, count(c.SubscriberCount), c.Videos, c.Playlists, perWeek, method)
		}
		return w.Flush()
	})
}

type videoFlags struct {
	competitor int64
	category   string
	sentiment  string
	sort       string
	desc       bool
	limit      int
	offset     int
}

func runVideos(cmd *cobra.Command, f videoFlags, jsonOutput bool) error {
	return withStore(cmd, true, func(ctx context.Context, a *app, s *store.Store) error {
		videos, err := s.ListVideos(ctx, store.VideoListOpts{
			CompetitorID: f.competitor,
			Category:     f.category,
			Sentiment:    f.sentiment,
			Sort:         f.sort,
			Desc:         f.desc,
			Limit:        f.limit,
			Offset:       f.offset,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, videos)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tVIDEO\tPUBLISHED\tCATEGORY\tVIEWS\tLIKES\tCOMMENTS\tTITLE")
		for i := range videos {
			v := &videos[i]
			published := "-"
			if d := v.EffectiveDate(); d.Valid {
				published = d.Time.Format(time.DateOnly)
			}
			category := "-"
			if v.Category != nil {
				category = *v.Category
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				v.ID, v.VideoID, published, category,
				count(v.ViewCount), count(v.LikeCount), count(v.CommentCount), truncate(v.Title, 60))
		}
		return w.Flush()
	})
}

func runHistory(cmd *cobra.Command, arg, since string, jsonOutput bool) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid competitor id %q", arg)
	}
	var from time.Time
	if since != "" {
		if from, err = store.ParseTime(since); err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
	}

	return withStore(cmd, true, func(ctx context.Context, a *app, s *store.Store) error {
		snaps, err := history.New(s, a.log).History(ctx, id, from)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, snaps)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RECORDED\tSUBSCRIBERS\tΔ\tVIEWS\tΔ\tVIDEOS\tΔ\tNOTES")
		for _, sn := range snaps {
			notes := ""
			if sn.Notes != nil {
				notes = *sn.Notes
			}
			fmt.Fprintf(w, "%s\t%d\t%+d\t%d\t%+d\t%d\t%+d\t%s\n",
				sn.RecordedAt.Format(time.RFC3339),
				sn.SubscriberCount, sn.SubscriberDelta,
				sn.ViewCount, sn.ViewDelta,
				sn.VideoCount, sn.VideoDelta, notes)
		}
		return w.Flush()
	})
}

func runCollect(cmd *cobra.Command, filterSources []string) error {
	return withStore(cmd, false, func(ctx context.Context, a *app, s *store.Store) error {
		allSources, err := buildSources(ctx, a.cfg, a.log)
		if err != nil {
			return err
		}

		// Filter to requested sources only.
		sources := allSources
		if len(filterSources) > 0 {
			wanted := make(map[string]bool)
			for _, name := range filterSources {
				wanted[strings.ToLower(strings.TrimSpace(name))] = true
			}
			sources = nil
			for _, src := range allSources {
				if wanted[src.Name()] {
					sources = append(sources, src)
				}
			}
		}
		if len(sources) == 0 {
			return errors.New("no importers enabled; configure sources.youtube or sources.feeds")
		}

		rep, err := buildScheduler(a, s, sources).Collect(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, rep)
	})
}

func runServe(cmd *cobra.Command, port int) error {
	return withStore(cmd, true, func(ctx context.Context, a *app, s *store.Store) error {
		if port == 0 {
			port = a.cfg.Server.Port
		}
		ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		srv := server.New(s, frequency.NewEngine(s, a.log), quality.New(s, a.cfg.QualityThresholds, a.log), port, a.log)
		return srv.ListenAndServe(ctx)
	})
}

func runDaemon(cmd *cobra.Command, port int) error {
	return withStore(cmd, false, func(ctx context.Context, a *app, s *store.Store) error {
		if port == 0 {
			port = a.cfg.Server.Port
		}
		sources, err := buildSources(ctx, a.cfg, a.log)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		sched := buildScheduler(a, s, sources)
		srv := server.New(s, frequency.NewEngine(s, a.log), quality.New(s, a.cfg.QualityThresholds, a.log), port, a.log)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			return srv.ListenAndServe(ctx)
		})

		err = g.Wait()
		a.log.Info("shutting down")
		return err
	})
}

func runConfigShow(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out, err := cfg.Dump()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func count(n *int64) string {
	if n == nil {
		return "-"
	}
	return strconv.FormatInt(*n, 10)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
