// Package storetest builds throwaway databases for package tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/elonfeng/ytradar/internal/store"
)

// New initializes a fully migrated database under t.TempDir.
func New(t testing.TB) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "database.db")
	s, err := store.Initialize(context.Background(), path, false, store.Options{})
	if err != nil {
		t.Fatalf("initialize test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Exec runs a statement or fails the test.
func Exec(t testing.TB, s *store.Store, query string, args ...any) int64 {
	t.Helper()
	res, err := s.DB().Exec(query, args...)
	if err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
	id, _ := res.LastInsertId()
	return id
}

// Competitor inserts a competitor with unknown counts and returns its id.
func Competitor(t testing.TB, s *store.Store, channelID, name string) int64 {
	t.Helper()
	now := store.FormatTime(time.Now())
	return Exec(t, s, `INSERT INTO competitors (channel_id, channel_url, name, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?)`, channelID, "https://www.youtube.com/channel/"+channelID, name, now, now)
}

// Video inserts a video. A zero published time leaves both dates NULL;
// category "" leaves it unclassified.
func Video(t testing.TB, s *store.Store, competitorID int64, videoID string, published time.Time, category string) int64 {
	t.Helper()
	now := store.FormatTime(time.Now())
	var pub, cat any
	if !published.IsZero() {
		pub = store.FormatTime(published)
	}
	if category != "" {
		cat = category
	}
	return Exec(t, s, `INSERT INTO videos (competitor_id, video_id, title, youtube_published_at, category, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, competitorID, videoID, "video "+videoID, pub, cat, now, now)
}

// Playlist inserts a playlist with the given stored count.
func Playlist(t testing.TB, s *store.Store, competitorID int64, playlistID string, count int64) int64 {
	t.Helper()
	now := store.FormatTime(time.Now())
	return Exec(t, s, `INSERT INTO playlists (competitor_id, playlist_id, name, video_count, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)`, competitorID, playlistID, "playlist "+playlistID, count, now, now)
}

// Link inserts a membership row.
func Link(t testing.TB, s *store.Store, playlistID, videoID int64) {
	t.Helper()
	Exec(t, s, `INSERT INTO playlist_videos (playlist_id, video_id, added_at) VALUES (?, ?, ?)`,
		playlistID, videoID, store.FormatTime(time.Now()))
}

// Count runs a COUNT query.
func Count(t testing.TB, s *store.Store, query string, args ...any) int {
	t.Helper()
	var n int
	if err := s.DB().Get(&n, query, args...); err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}
