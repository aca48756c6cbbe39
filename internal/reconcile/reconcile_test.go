package reconcile

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/elonfeng/ytradar/internal/store"
	"github.com/elonfeng/ytradar/internal/store/storetest"
)

func addVideos(t *testing.T, s *store.Store, competitorID int64, prefix string, n int) []int64 {
	t.Helper()
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = storetest.Video(t, s, competitorID, fmt.Sprintf("%s%d", prefix, i), time.Time{}, "")
	}
	return ids
}

// invariantsHold checks that every competitor with videos has a playlist
// covering all of them and that no playlist count drifts.
func invariantsHold(t *testing.T, s *store.Store, r *Reconciler) {
	t.Helper()
	uncovered := storetest.Count(t, s, `
		SELECT COUNT(*) FROM competitors c
		WHERE EXISTS (SELECT 1 FROM videos v WHERE v.competitor_id = c.id)
		  AND NOT EXISTS (
		    SELECT 1 FROM playlists p WHERE p.competitor_id = c.id
		      AND NOT EXISTS (
		        SELECT 1 FROM videos v WHERE v.competitor_id = c.id
		          AND NOT EXISTS (SELECT 1 FROM playlist_videos pv WHERE pv.playlist_id = p.id AND pv.video_id = v.id)))`)
	var excluded int
	comps, _ := s.ListCompetitors(context.Background(), store.CompetitorListOpts{})
	for _, c := range comps {
		if c.Videos > 0 && c.Playlists == 0 && r.Excluded(c.Name) {
			excluded++
		}
	}
	if uncovered != excluded {
		t.Errorf("%d competitors lack a covering playlist (%d excluded)", uncovered, excluded)
	}
	drift := storetest.Count(t, s, `SELECT COUNT(*) FROM playlists p
		WHERE p.video_count <> (SELECT COUNT(*) FROM playlist_videos pv WHERE pv.playlist_id = p.id)`)
	if drift != 0 {
		t.Errorf("%d playlists drift after reconciliation", drift)
	}
}

func TestReconcileBackfillsAllVideosPlaylist(t *testing.T) {
	s := storetest.New(t)
	r := New(s, Options{}, nil)
	ctx := context.Background()

	d := storetest.Competitor(t, s, "UCD", "Dee")
	addVideos(t, s, d, "d", 3)

	rep, err := r.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(rep.Created) != 1 || rep.LinksAdded != 3 {
		t.Fatalf("report = %+v", rep)
	}

	pls, err := s.ListPlaylists(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	if len(pls) != 1 {
		t.Fatalf("playlists = %d, want 1", len(pls))
	}
	p := pls[0]
	if want := fmt.Sprintf("%d_all_videos", d); p.PlaylistID != want {
		t.Errorf("playlist_id = %q, want %q", p.PlaylistID, want)
	}
	if p.Name != "All Videos - Dee" || p.Category == nil || *p.Category != "hub" {
		t.Errorf("playlist = %+v", p)
	}
	if p.VideoCount != 3 {
		t.Errorf("video_count = %d, want 3", p.VideoCount)
	}
	members, err := s.ListMemberships(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 3 {
		t.Errorf("memberships = %d, want 3", len(members))
	}
	for _, m := range members {
		if m.Position != nil {
			t.Errorf("position = %d, want NULL", *m.Position)
		}
	}
	invariantsHold(t, s, r)
}

func TestReconcileIsIdempotent(t *testing.T) {
	s := storetest.New(t)
	r := New(s, Options{}, nil)
	ctx := context.Background()

	d := storetest.Competitor(t, s, "UCD", "Dee")
	addVideos(t, s, d, "d", 2)

	if _, err := r.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}
	before, _ := s.ListPlaylists(ctx, 0)

	rep, err := r.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Created) != 0 || rep.LinksAdded != 0 || rep.CountsFixed != 0 {
		t.Errorf("second run report = %+v, want no changes", rep)
	}
	after, _ := s.ListPlaylists(ctx, 0)
	if len(after) != len(before) || !after[0].LastUpdated.Equal(before[0].LastUpdated.Time) {
		t.Errorf("second run touched playlists: %+v -> %+v", before, after)
	}
}

func TestReconcileTopsUpAfterNewVideos(t *testing.T) {
	s := storetest.New(t)
	r := New(s, Options{}, nil)
	ctx := context.Background()

	d := storetest.Competitor(t, s, "UCD", "Dee")
	addVideos(t, s, d, "d", 3)
	if _, err := r.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}

	addVideos(t, s, d, "late", 2)
	check, err := r.Check(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(check.ToppedUp) != 1 || check.ToppedUp[0].Missing != 2 {
		t.Errorf("Check() topped up = %+v, want one playlist missing 2", check.ToppedUp)
	}

	rep, err := r.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(rep.Created) != 0 || len(rep.ToppedUp) != 1 || rep.LinksAdded != 2 || rep.CountsFixed != 1 {
		t.Errorf("second run report = %+v", rep)
	}
	if n := storetest.Count(t, s, "SELECT COUNT(*) FROM playlist_videos"); n != 5 {
		t.Errorf("memberships = %d, want 5", n)
	}
	invariantsHold(t, s, r)

	again, err := r.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(again.ToppedUp) != 0 || again.LinksAdded != 0 {
		t.Errorf("third run report = %+v, want no changes", again)
	}
}

func TestReconcileExclusionPolicy(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	test := storetest.Competitor(t, s, "UCT", "Test Channel")
	topic := storetest.Competitor(t, s, "UCA", "Topic Analysis Bot")
	genuine := storetest.Competitor(t, s, "UCR", "Real")
	for _, id := range []int64{test, topic, genuine} {
		addVideos(t, s, id, fmt.Sprintf("c%d-", id), 1)
	}

	rep, err := New(s, Options{}, nil).Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Created) != 1 || rep.Created[0].CompetitorID != genuine {
		t.Errorf("created = %+v, want only the real competitor", rep.Created)
	}
	if len(rep.Skipped) != 2 {
		t.Errorf("skipped = %+v, want 2", rep.Skipped)
	}

	// Matching is case sensitive and the policy is configurable.
	r := New(s, Options{ExcludeNamePatterns: []string{"test"}}, nil)
	if r.Excluded("Test Channel") {
		t.Error("pattern matching should be case sensitive")
	}
	rep, err = r.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Created) != 2 {
		t.Errorf("custom policy created %d playlists, want 2", len(rep.Created))
	}
}

func TestReconcileFixesCountDrift(t *testing.T) {
	s := storetest.New(t)
	r := New(s, Options{}, nil)
	ctx := context.Background()

	c := storetest.Competitor(t, s, "UCC", "C")
	vids := addVideos(t, s, c, "v", 3)
	good := storetest.Playlist(t, s, c, "PLgood", 1)
	bad := storetest.Playlist(t, s, c, "PLbad", 7)
	storetest.Link(t, s, good, vids[0])
	storetest.Link(t, s, bad, vids[1])
	storetest.Link(t, s, bad, vids[2])

	goodBefore, _ := s.GetPlaylist(ctx, good)
	time.Sleep(5 * time.Millisecond)

	rep, err := r.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.CountsFixed != 1 {
		t.Errorf("counts fixed = %d, want 1", rep.CountsFixed)
	}
	p, _ := s.GetPlaylist(ctx, bad)
	if p.VideoCount != 2 {
		t.Errorf("drifting playlist count = %d, want 2", p.VideoCount)
	}
	goodAfter, _ := s.GetPlaylist(ctx, good)
	if !goodAfter.LastUpdated.Equal(goodBefore.LastUpdated.Time) {
		t.Error("consistent playlist had last_updated touched")
	}
	if len(rep.Created) != 0 {
		t.Errorf("competitor with playlists was back-filled: %+v", rep.Created)
	}
}

func TestReconcileContinuesPastFailures(t *testing.T) {
	s := storetest.New(t)
	r := New(s, Options{}, nil)
	ctx := context.Background()

	blocked := storetest.Competitor(t, s, "UCB", "Blocked")
	ok := storetest.Competitor(t, s, "UCO", "Okay")
	other := storetest.Competitor(t, s, "UCX", "Other")
	addVideos(t, s, blocked, "b", 2)
	addVideos(t, s, ok, "o", 2)
	// The deterministic id of Blocked's playlist is already taken.
	storetest.Playlist(t, s, other, fmt.Sprintf("%d_all_videos", blocked), 0)

	rep, err := r.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(rep.Failures) != 1 || rep.Failures[0].CompetitorID != blocked {
		t.Errorf("failures = %+v", rep.Failures)
	}
	if len(rep.Created) != 1 || rep.Created[0].CompetitorID != ok {
		t.Errorf("created = %+v", rep.Created)
	}
	if n := storetest.Count(t, s, "SELECT COUNT(*) FROM playlists WHERE competitor_id = ?", blocked); n != 0 {
		t.Errorf("failed back-fill left %d playlists", n)
	}
}

func TestCheckDoesNotWrite(t *testing.T) {
	s := storetest.New(t)
	r := New(s, Options{}, nil)
	ctx := context.Background()

	d := storetest.Competitor(t, s, "UCD", "Dee")
	addVideos(t, s, d, "d", 2)
	storetest.Competitor(t, s, "UCT", "Test")
	e := storetest.Competitor(t, s, "UCE", "Eee")
	storetest.Playlist(t, s, e, "PLE", 4)

	rep, err := r.Check(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !rep.DryRun || len(rep.Pending) != 1 || rep.Pending[0].ID != d || rep.Pending[0].Videos != 2 {
		t.Errorf("pending = %+v", rep.Pending)
	}
	if len(rep.Drifting) != 1 || rep.Drifting[0].Stored != 4 || rep.Drifting[0].Actual != 0 {
		t.Errorf("drifting = %+v", rep.Drifting)
	}
	if n := storetest.Count(t, s, "SELECT COUNT(*) FROM playlists"); n != 1 {
		t.Errorf("Check() wrote playlists: %d", n)
	}
}

func TestReconcileConvergesOnMixedData(t *testing.T) {
	s := storetest.New(t)
	r := New(s, Options{}, nil)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		c := storetest.Competitor(t, s, fmt.Sprintf("UC%d", i), fmt.Sprintf("Channel %d", i))
		vids := addVideos(t, s, c, fmt.Sprintf("c%d-", i), i)
		if i%2 == 0 && i > 0 {
			p := storetest.Playlist(t, s, c, fmt.Sprintf("PL%d", i), int64(i*3))
			for _, v := range vids {
				storetest.Link(t, s, p, v)
			}
		}
	}

	if _, err := r.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}
	invariantsHold(t, s, r)
}
