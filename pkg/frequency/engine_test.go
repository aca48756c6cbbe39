package frequency

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	apperrors "github.com/elonfeng/ytradar/internal/errors"
	"github.com/elonfeng/ytradar/internal/store"
	"github.com/elonfeng/ytradar/internal/store/storetest"
)

func TestRunCompetitorRealDates(t *testing.T) {
	s := storetest.New(t)
	e := NewEngine(s, nil)
	ctx := context.Background()
	c := storetest.Competitor(t, s, "UCF", "F")

	for i := 0; i < 9; i++ {
		storetest.Video(t, s, c, fmt.Sprintf("v%d", i), day0.AddDate(0, 0, i*7), "hero")
	}
	storetest.Video(t, s, c, "v9", day0.AddDate(0, 0, 70), "")

	got, err := e.RunCompetitor(ctx, c)
	if err != nil {
		t.Fatalf("RunCompetitor() error = %v", err)
	}
	if got.TotalVideos != 10 || got.TotalWeeks != 10 || got.AvgVideosPerWeek != 1 {
		t.Errorf("stats = %+v", got)
	}
	if got.CalculationMethod != store.MethodRealDates {
		t.Errorf("method = %q", got.CalculationMethod)
	}
	if got.HeroCount != 9 || got.HubCount != 1 || got.HeroPerWeek != 0.9 || got.HubPerWeek != 0.1 {
		t.Errorf("category breakdown = %+v", got)
	}

	stored, err := s.GetFrequencyStats(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	if stored == nil || stored.TotalWeeks != 10 || !stored.FirstPublished.Valid ||
		!stored.FirstPublished.Time.Equal(day0) || !stored.LastPublished.Time.Equal(day0.AddDate(0, 0, 70)) {
		t.Errorf("stored row = %+v", stored)
	}
}

func TestRunCompetitorSingleVideo(t *testing.T) {
	s := storetest.New(t)
	e := NewEngine(s, nil)
	c := storetest.Competitor(t, s, "UCS", "S")
	storetest.Video(t, s, c, "only", day0, "help")

	got, err := e.RunCompetitor(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if got.CalculationMethod != store.MethodSimpleEstimate || got.TotalWeeks != 1 || got.AvgVideosPerWeek != 1 {
		t.Errorf("stats = %+v", got)
	}
}

func TestRunCompetitorPrefersExternalDate(t *testing.T) {
	s := storetest.New(t)
	e := NewEngine(s, nil)
	c := storetest.Competitor(t, s, "UCE", "E")
	a := storetest.Video(t, s, c, "a", time.Time{}, "")
	b := storetest.Video(t, s, c, "b", day0.AddDate(0, 0, 28), "")
	storetest.Exec(t, s, "UPDATE videos SET published_at = ? WHERE id = ?", store.FormatTime(day0), a)
	// The internal date of b is ignored in favour of the external one.
	storetest.Exec(t, s, "UPDATE videos SET published_at = ? WHERE id = ?", store.FormatTime(day0.AddDate(1, 0, 0)), b)

	got, err := e.RunCompetitor(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalWeeks != 4 || got.AvgVideosPerWeek != 0.5 {
		t.Errorf("stats = %+v", got)
	}
}

func TestRunCompetitorWithoutVideosRemovesRow(t *testing.T) {
	s := storetest.New(t)
	e := NewEngine(s, nil)
	ctx := context.Background()
	c := storetest.Competitor(t, s, "UCZ", "Z")
	v := storetest.Video(t, s, c, "gone", day0, "")

	if _, err := e.RunCompetitor(ctx, c); err != nil {
		t.Fatal(err)
	}
	storetest.Exec(t, s, "DELETE FROM videos WHERE id = ?", v)

	got, err := e.RunCompetitor(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("RunCompetitor() = %+v, want nil", got)
	}
	if n := storetest.Count(t, s, "SELECT COUNT(*) FROM frequency_stats WHERE competitor_id = ?", c); n != 0 {
		t.Errorf("stale frequency row kept")
	}
}

func TestRunCompetitorUnknown(t *testing.T) {
	e := NewEngine(storetest.New(t), nil)
	if _, err := e.RunCompetitor(context.Background(), 42); apperrors.GetCode(err) != apperrors.CodeNotFound {
		t.Errorf("RunCompetitor(unknown) error = %v", err)
	}
}

func TestRun(t *testing.T) {
	s := storetest.New(t)
	e := NewEngine(s, nil)
	ctx := context.Background()

	busy := storetest.Competitor(t, s, "UCB", "Busy")
	storetest.Competitor(t, s, "UCI", "Idle")
	storetest.Video(t, s, busy, "b1", day0, "hero")
	storetest.Video(t, s, busy, "b2", day0.AddDate(0, 0, 14), "hub")

	rep, err := e.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Updated != 1 || rep.Removed != 1 || len(rep.Failures) != 0 {
		t.Errorf("report = %+v", rep)
	}
	if n := storetest.Count(t, s, "SELECT COUNT(*) FROM frequency_stats"); n != 1 {
		t.Errorf("frequency rows = %d, want 1", n)
	}
}

func TestEngagement(t *testing.T) {
	s := storetest.New(t)
	e := NewEngine(s, nil)
	ctx := context.Background()
	c := storetest.Competitor(t, s, "UCG", "G")

	a := storetest.Video(t, s, c, "a", day0, "hero")
	b := storetest.Video(t, s, c, "b", day0, "hub")
	z := storetest.Video(t, s, c, "z", day0, "help")
	storetest.Exec(t, s, `UPDATE videos SET view_count = 1000, like_count = 50, comment_count = 10,
		sentiment_label = 'positive', sentiment_score = 0.8 WHERE id = ?`, a)
	storetest.Exec(t, s, `UPDATE videos SET view_count = 3000, like_count = 30, comment_count = 10,
		sentiment_label = 'positive', sentiment_score = 0.6 WHERE id = ?`, b)
	storetest.Exec(t, s, `UPDATE videos SET view_count = 0, like_count = 0,
		sentiment_label = 'negative', sentiment_score = -0.5 WHERE id = ?`, z)

	got, err := e.Engagement(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	if got.Videos != 2 || got.TotalViews != 4000 {
		t.Errorf("engagement totals = %+v", got)
	}
	if got.AvgViews != 2000 || got.AvgLikes != 40 || got.AvgComments != 10 {
		t.Errorf("averages = %+v", got)
	}
	if got.EngagementRate != 0.025 {
		t.Errorf("engagement rate = %v, want 0.025", got.EngagementRate)
	}
	if got.Sentiment["positive"] != 2 || got.Sentiment["negative"] != 1 {
		t.Errorf("sentiment = %v", got.Sentiment)
	}
	if got.AvgSentiment == nil || *got.AvgSentiment != 0.3 {
		t.Errorf("avg sentiment = %v, want 0.3", got.AvgSentiment)
	}

	empty := storetest.Competitor(t, s, "UCH", "H")
	none, err := e.Engagement(ctx, empty)
	if err != nil {
		t.Fatal(err)
	}
	if none.Videos != 0 || none.EngagementRate != 0 || none.Sentiment != nil || none.AvgSentiment != nil {
		t.Errorf("empty engagement = %+v", none)
	}
}

func TestEngagementIgnoresUnscoredLabels(t *testing.T) {
	s := storetest.New(t)
	e := NewEngine(s, nil)
	c := storetest.Competitor(t, s, "UCS", "S")

	for i, set := range []string{
		"sentiment_label = 'positive', sentiment_score = 0.9",
		"sentiment_label = 'positive'",
		"sentiment_label = 'positive'",
		"sentiment_label = 'negative', sentiment_score = -0.3",
	} {
		id := storetest.Video(t, s, c, fmt.Sprintf("s%d", i), day0, "hub")
		storetest.Exec(t, s, "UPDATE videos SET "+set+" WHERE id = ?", id)
	}

	got, err := e.Engagement(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if got.Sentiment["positive"] != 3 || got.Sentiment["negative"] != 1 {
		t.Errorf("sentiment = %v", got.Sentiment)
	}
	if got.AvgSentiment == nil || *got.AvgSentiment != 0.3 {
		t.Errorf("avg sentiment = %v, want 0.3 over the two scored videos", got.AvgSentiment)
	}
}

// Recomputing without intervening writes yields the same row apart from
// last_updated.
func TestProperty_RunCompetitorIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("rerun is a fixed point", prop.ForAll(
		func(offsets []int) bool {
			s := storetest.New(t)
			e := NewEngine(s, nil)
			ctx := context.Background()
			c := storetest.Competitor(t, s, "UCP", "P")
			for i, off := range offsets {
				var published time.Time
				if off >= 0 {
					published = day0.AddDate(0, 0, off)
				}
				storetest.Video(t, s, c, fmt.Sprintf("p%d", i), published, []string{"", "hero", "hub", "help"}[i%4])
			}

			first, err := e.RunCompetitor(ctx, c)
			if err != nil {
				return false
			}
			second, err := e.RunCompetitor(ctx, c)
			if err != nil {
				return false
			}
			if first == nil || second == nil {
				return first == nil && second == nil && len(offsets) == 0
			}
			stored, err := s.GetFrequencyStats(ctx, c)
			if err != nil || stored == nil {
				return false
			}
			return sameCadence(first, second) && sameCadence(stored, second)
		},
		gen.SliceOf(gen.IntRange(-3, 200)),
	))

	properties.TestingRun(t)
}

func sameCadence(a, b *store.FrequencyStats) bool {
	sameTime := func(x, y store.NullTime) bool {
		return x.Valid == y.Valid && x.Time.Equal(y.Time)
	}
	return a.CompetitorID == b.CompetitorID &&
		a.TotalVideos == b.TotalVideos &&
		a.TotalWeeks == b.TotalWeeks &&
		a.AvgVideosPerWeek == b.AvgVideosPerWeek &&
		a.HeroCount == b.HeroCount && a.HubCount == b.HubCount && a.HelpCount == b.HelpCount &&
		a.HeroPerWeek == b.HeroPerWeek && a.HubPerWeek == b.HubPerWeek && a.HelpPerWeek == b.HelpPerWeek &&
		sameTime(a.FirstPublished, b.FirstPublished) &&
		sameTime(a.LastPublished, b.LastPublished) &&
		a.CalculationMethod == b.CalculationMethod
}
