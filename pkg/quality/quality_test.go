package quality

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/elonfeng/ytradar/internal/store"
	"github.com/elonfeng/ytradar/internal/store/storetest"
	"github.com/elonfeng/ytradar/pkg/frequency"
)

func setEngagement(t *testing.T, s *store.Store, videoID int64, views, likes, comments any) {
	t.Helper()
	storetest.Exec(t, s, "UPDATE videos SET view_count = ?, like_count = ?, comment_count = ? WHERE id = ?",
		views, likes, comments, videoID)
}

// cleanVideo inserts a video with plausible engagement.
func cleanVideo(t *testing.T, s *store.Store, competitorID int64, id string) int64 {
	t.Helper()
	v := storetest.Video(t, s, competitorID, id, time.Now(), "hub")
	setEngagement(t, s, v, 1000, 10, 2)
	return v
}

func refreshFrequency(t *testing.T, s *store.Store) {
	t.Helper()
	if _, err := frequency.NewEngine(s, nil).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestValidateCleanData(t *testing.T) {
	s := storetest.New(t)
	c := storetest.Competitor(t, s, "UCC", "C")
	v := cleanVideo(t, s, c, "v1")
	p := storetest.Playlist(t, s, c, "PL1", 1)
	storetest.Link(t, s, p, v)
	refreshFrequency(t, s)

	rep, err := New(s, DefaultThresholds(), nil).Validate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Score != 100 {
		t.Errorf("score = %d, want 100", rep.Score)
	}
	if len(rep.Checks) != 6 {
		t.Errorf("checks = %d, want 6", len(rep.Checks))
	}
	if issues := rep.Issues(); len(issues) != 0 {
		t.Errorf("issues = %v", issues)
	}
}

func TestValidatePenalties(t *testing.T) {
	s := storetest.New(t)
	c := storetest.Competitor(t, s, "UCC", "C")

	bad := cleanVideo(t, s, c, "impossible")
	setEngagement(t, s, bad, 100, 150, 0)
	for i := 0; i < 6; i++ {
		storetest.Playlist(t, s, c, fmt.Sprintf("PL%d", i), 3)
	}
	refreshFrequency(t, s)

	rep, err := New(s, DefaultThresholds(), nil).Validate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Score != 70 {
		t.Errorf("score = %d, want 70 (issues %v)", rep.Score, rep.Issues())
	}
	if r := rep.Check(CheckImpossibleEngagement); r.Count != 1 || r.Penalty != 20 || len(r.Samples) != 1 || r.Samples[0] != bad {
		t.Errorf("impossible engagement = %+v", r)
	}
	if r := rep.Check(CheckPlaylistDrift); r.Count != 6 || r.Penalty != 10 {
		t.Errorf("drift = %+v", r)
	}
	// The impossible video is also implausible, but one is under the threshold.
	if r := rep.Check(CheckImplausibleRatio); r.Count != 1 || r.Penalty != 0 {
		t.Errorf("ratio = %+v", r)
	}
}

func TestValidateThresholdBoundaries(t *testing.T) {
	s := storetest.New(t)
	c := storetest.Competitor(t, s, "UCC", "C")
	for i := 0; i < 5; i++ {
		storetest.Playlist(t, s, c, fmt.Sprintf("PL%d", i), 1)
	}
	for i := 0; i < 10; i++ {
		v := cleanVideo(t, s, c, fmt.Sprintf("r%d", i))
		setEngagement(t, s, v, 100, 30, 0)
	}
	refreshFrequency(t, s)

	rep, err := New(s, DefaultThresholds(), nil).Validate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Score != 100 {
		t.Errorf("score at thresholds = %d, want 100 (issues %v)", rep.Score, rep.Issues())
	}

	storetest.Playlist(t, s, c, "PL5", 1)
	v := cleanVideo(t, s, c, "r10")
	setEngagement(t, s, v, 100, 30, 0)
	refreshFrequency(t, s)

	rep, err = New(s, DefaultThresholds(), nil).Validate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Score != 85 {
		t.Errorf("score past thresholds = %d, want 85 (issues %v)", rep.Score, rep.Issues())
	}
}

func TestValidateMissingStatsAndNumerics(t *testing.T) {
	s := storetest.New(t)
	c := storetest.Competitor(t, s, "UCC", "C")
	storetest.Video(t, s, c, "nulls", time.Now(), "")
	phantom := cleanVideo(t, s, c, "phantom")
	setEngagement(t, s, phantom, 0, 3, 1)
	negative := cleanVideo(t, s, c, "negative")
	setEngagement(t, s, negative, -1, 0, 0)

	rep, err := New(s, DefaultThresholds(), nil).Validate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r := rep.Check(CheckMissingStats); r.Count != 1 || r.Penalty != 10 || r.Samples[0] != c {
		t.Errorf("missing stats = %+v", r)
	}
	if r := rep.Check(CheckPhantomEngagement); r.Count != 1 || r.Penalty != 15 {
		t.Errorf("phantom = %+v", r)
	}
	if r := rep.Check(CheckInvalidNumerics); r.Count != 2 || r.Penalty != 0 {
		t.Errorf("invalid numerics = %+v", r)
	}
	if rep.Score != 75 {
		t.Errorf("score = %d, want 75", rep.Score)
	}
	issues := strings.Join(rep.Issues(), "\n")
	if !strings.Contains(issues, "missing_stats: 1 (-10)") || !strings.Contains(issues, "invalid_numerics: 2") {
		t.Errorf("issues = %s", issues)
	}
}

func TestValidateScoreFloorAndSampleCap(t *testing.T) {
	s := storetest.New(t)
	c := storetest.Competitor(t, s, "UCC", "C")
	for i := 0; i < MaxSamples+5; i++ {
		v := cleanVideo(t, s, c, fmt.Sprintf("x%d", i))
		setEngagement(t, s, v, 10, 50, 0)
	}

	th := DefaultThresholds()
	th.ImpossibleEngagement.Points = 90
	rep, err := New(s, th, nil).Validate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Score != 0 {
		t.Errorf("score = %d, want 0", rep.Score)
	}
	if r := rep.Check(CheckImpossibleEngagement); r.Count != MaxSamples+5 || len(r.Samples) != MaxSamples {
		t.Errorf("impossible = count %d samples %d", r.Count, len(r.Samples))
	}
}

func TestValidateDoesNotWrite(t *testing.T) {
	s := storetest.New(t)
	c := storetest.Competitor(t, s, "UCC", "C")
	storetest.Playlist(t, s, c, "PL", 9)
	cleanVideo(t, s, c, "v")

	if _, err := New(s, DefaultThresholds(), nil).Validate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := storetest.Count(t, s, "SELECT COUNT(*) FROM frequency_stats"); n != 0 {
		t.Errorf("validator wrote frequency rows")
	}
	if n := storetest.Count(t, s, "SELECT video_count FROM playlists"); n != 9 {
		t.Errorf("validator repaired playlist count")
	}
}

func TestThresholdsValidate(t *testing.T) {
	if err := DefaultThresholds().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
	th := DefaultThresholds()
	th.PlaylistDrift.Above = -1
	if err := th.Validate(); err == nil {
		t.Error("negative threshold accepted")
	}
	th = DefaultThresholds()
	th.MaxLikeRatio = 0
	if err := th.Validate(); err == nil {
		t.Error("zero ratio accepted")
	}
}
