package store

import (
	"context"
	"testing"
	"time"
)

func seedVideos(t *testing.T, s *Store) int64 {
	t.Helper()
	now := FormatTime(time.Now())
	res, err := s.DB().Exec(`INSERT INTO competitors (channel_id, channel_url, name, created_at, last_updated)
		VALUES ('UCA', 'https://youtube.com/channel/UCA', 'Alpha', ?, ?)`, now, now)
	if err != nil {
		t.Fatal(err)
	}
	cid, _ := res.LastInsertId()

	rows := []struct {
		id        string
		published string
		views     any
		likes     any
		category  any
		sentiment any
	}{
		{"v1", "2024-01-01T00:00:00.000Z", 100, 10, "hero", "positive"},
		{"v2", "2024-01-08T00:00:00.000Z", 1000, 20, "hub", "negative"},
		{"v3", "2024-01-15T00:00:00.000Z", nil, nil, nil, nil},
		{"v4", "2024-01-22T00:00:00.000Z", 500, 100, "help", "positive"},
	}
	for _, r := range rows {
		mustExec(t, s, `INSERT INTO videos (competitor_id, video_id, title, youtube_published_at, view_count, like_count,
			category, sentiment_label, created_at, last_updated) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cid, r.id, "title "+r.id, r.published, r.views, r.likes, r.category, r.sentiment, now, now)
	}
	return cid
}

func videoIDs(vs []Video) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.VideoID
	}
	return out
}

func TestListVideos(t *testing.T) {
	s := newTestStore(t)
	cid := seedVideos(t, s)
	ctx := context.Background()

	tests := []struct {
		name string
		opts VideoListOpts
		want []string
	}{
		{"default published asc", VideoListOpts{CompetitorID: cid}, []string{"v1", "v2", "v3", "v4"}},
		{"views desc nulls last", VideoListOpts{Sort: "views", Desc: true}, []string{"v2", "v4", "v1", "v3"}},
		{"engagement desc", VideoListOpts{Sort: "engagement", Desc: true}, []string{"v4", "v1", "v2", "v3"}},
		{"hero only", VideoListOpts{Category: "hero"}, []string{"v1"}},
		{"unclassified", VideoListOpts{Category: UnclassifiedFilter}, []string{"v3"}},
		{"sentiment", VideoListOpts{Sentiment: "positive"}, []string{"v1", "v4"}},
		{"paged", VideoListOpts{Limit: 2, Offset: 1}, []string{"v2", "v3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListVideos(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListVideos() error = %v", err)
			}
			ids := videoIDs(got)
			if len(ids) != len(tt.want) {
				t.Fatalf("ListVideos() = %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Fatalf("ListVideos() = %v, want %v", ids, tt.want)
				}
			}
		})
	}

	if _, err := s.ListVideos(ctx, VideoListOpts{Sort: "random"}); err == nil {
		t.Error("ListVideos() accepted an unknown sort key")
	}
	if _, err := s.ListVideos(ctx, VideoListOpts{Category: "villain"}); err == nil {
		t.Error("ListVideos() accepted an unknown category")
	}
}

func TestListCompetitorsJoinsFrequency(t *testing.T) {
	s := newTestStore(t)
	cid := seedVideos(t, s)
	ctx := context.Background()

	mustExec(t, s, `INSERT INTO frequency_stats (competitor_id, total_videos, total_weeks, avg_videos_per_week,
		calculation_method, last_updated) VALUES (?, 4, 3, 1.33, 'real_dates', ?)`, cid, FormatTime(time.Now()))

	got, err := s.ListCompetitors(ctx, CompetitorListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("ListCompetitors() returned %d rows", len(got))
	}
	c := got[0]
	if c.Name != "Alpha" || c.Videos != 4 || c.Playlists != 0 {
		t.Errorf("summary = %+v", c)
	}
	if c.Frequency == nil || c.Frequency.AvgVideosPerWeek != 1.33 {
		t.Errorf("frequency = %+v", c.Frequency)
	}

	none, err := s.ListCompetitors(ctx, CompetitorListOpts{NameContains: "Beta"})
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("name filter returned %d rows", len(none))
	}
}

func TestListSnapshotsOrdered(t *testing.T) {
	s := newTestStore(t)
	cid := seedVideos(t, s)
	ctx := context.Background()

	for _, at := range []string{"2024-02-01T00:00:00.000Z", "2024-01-01T00:00:00.000Z", "2024-03-01T00:00:00.000Z"} {
		mustExec(t, s, `INSERT INTO stats_history (competitor_id, recorded_at) VALUES (?, ?)`, cid, at)
	}

	all, err := s.ListSnapshots(ctx, cid, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("ListSnapshots() returned %d rows", len(all))
	}
	for i := 1; i < len(all); i++ {
		if !all[i-1].RecordedAt.Before(all[i].RecordedAt.Time) {
			t.Errorf("snapshots out of order: %v then %v", all[i-1].RecordedAt, all[i].RecordedAt)
		}
	}

	recent, err := s.ListSnapshots(ctx, cid, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Errorf("ListSnapshots(since) returned %d rows, want 2", len(recent))
	}

	latest, err := LatestSnapshot(ctx, s.DB(), cid)
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || latest.RecordedAt.Month() != time.March {
		t.Errorf("LatestSnapshot() = %+v", latest)
	}
}
