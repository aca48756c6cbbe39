package store

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TEXT NOT NULL
);
`

const competitorsTable = `
CREATE TABLE IF NOT EXISTS competitors (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    channel_id       TEXT NOT NULL UNIQUE,
    channel_url      TEXT NOT NULL UNIQUE,
    name             TEXT NOT NULL,
    subscriber_count INTEGER CHECK (subscriber_count IS NULL OR subscriber_count >= 0),
    view_count       INTEGER CHECK (view_count IS NULL OR view_count >= 0),
    video_count      INTEGER CHECK (video_count IS NULL OR video_count >= 0),
    country          TEXT,
    language         TEXT,
    created_at       TEXT NOT NULL,
    last_updated     TEXT NOT NULL
);
`

const videosTable = `
CREATE TABLE IF NOT EXISTS videos (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    competitor_id        INTEGER NOT NULL REFERENCES competitors(id) ON DELETE CASCADE,
    video_id             TEXT NOT NULL UNIQUE,
    title                TEXT NOT NULL,
    published_at         TEXT,
    youtube_published_at TEXT,
    duration_seconds     INTEGER,
    view_count           INTEGER,
    like_count           INTEGER,
    comment_count        INTEGER,
    category             TEXT CHECK (category IS NULL OR category IN ('hero', 'hub', 'help')),
    created_at           TEXT NOT NULL,
    last_updated         TEXT NOT NULL
);
`

const playlistsTable = `
CREATE TABLE IF NOT EXISTS playlists (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    competitor_id INTEGER NOT NULL REFERENCES competitors(id) ON DELETE CASCADE,
    playlist_id   TEXT NOT NULL UNIQUE,
    name          TEXT NOT NULL,
    category      TEXT,
    video_count   INTEGER NOT NULL DEFAULT 0,
    created_at    TEXT NOT NULL,
    last_updated  TEXT NOT NULL
);
`

const playlistVideosTable = `
CREATE TABLE IF NOT EXISTS playlist_videos (
    playlist_id INTEGER NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
    video_id    INTEGER NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
    position    INTEGER,
    added_at    TEXT NOT NULL,
    PRIMARY KEY (playlist_id, video_id)
);
`

const statsHistoryTable = `
CREATE TABLE IF NOT EXISTS stats_history (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    competitor_id    INTEGER NOT NULL REFERENCES competitors(id) ON DELETE CASCADE,
    recorded_at      TEXT NOT NULL,
    subscriber_count INTEGER NOT NULL DEFAULT 0,
    view_count       INTEGER NOT NULL DEFAULT 0,
    video_count      INTEGER NOT NULL DEFAULT 0,
    subscriber_delta INTEGER NOT NULL DEFAULT 0,
    view_delta       INTEGER NOT NULL DEFAULT 0,
    video_delta      INTEGER NOT NULL DEFAULT 0,
    notes            TEXT
);
`

const frequencyStatsTable = `
CREATE TABLE IF NOT EXISTS frequency_stats (
    competitor_id       INTEGER PRIMARY KEY REFERENCES competitors(id) ON DELETE CASCADE,
    total_videos        INTEGER NOT NULL,
    total_weeks         INTEGER NOT NULL CHECK (total_weeks >= 1),
    avg_videos_per_week REAL NOT NULL,
    hero_count          INTEGER NOT NULL DEFAULT 0,
    hub_count           INTEGER NOT NULL DEFAULT 0,
    help_count          INTEGER NOT NULL DEFAULT 0,
    hero_per_week       REAL NOT NULL DEFAULT 0,
    hub_per_week        REAL NOT NULL DEFAULT 0,
    help_per_week       REAL NOT NULL DEFAULT 0,
    first_published     TEXT,
    last_published      TEXT,
    calculation_method  TEXT NOT NULL CHECK (calculation_method IN ('real_dates', 'simple_estimate')),
    last_updated        TEXT NOT NULL
);
`

// migrations is the ordered, additive upgrade path. Versions are never
// reordered or edited once released; new changes get a new version.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "core tables",
		Tables: []TableDef{
			{Name: "competitors", DDL: competitorsTable, Columns: map[string]string{
				"id": "INTEGER", "channel_id": "TEXT", "channel_url": "TEXT", "name": "TEXT",
			}, Adopt: adopt("competitors",
				"subscriber_count INTEGER", "view_count INTEGER", "video_count INTEGER",
				"country TEXT", "language TEXT", "created_at", "last_updated")},
			{Name: "videos", DDL: videosTable, Columns: map[string]string{
				"id": "INTEGER", "competitor_id": "INTEGER", "video_id": "TEXT", "title": "TEXT",
			}, Adopt: adopt("videos",
				"published_at TEXT", "youtube_published_at TEXT", "duration_seconds INTEGER",
				"view_count INTEGER", "like_count INTEGER", "comment_count INTEGER", "category TEXT",
				"created_at", "last_updated")},
			{Name: "playlists", DDL: playlistsTable, Columns: map[string]string{
				"id": "INTEGER", "competitor_id": "INTEGER", "playlist_id": "TEXT", "name": "TEXT",
			}, Adopt: adopt("playlists",
				"category TEXT", "video_count INTEGER NOT NULL DEFAULT 0", "created_at", "last_updated")},
			{Name: "playlist_videos", DDL: playlistVideosTable, Columns: map[string]string{
				"playlist_id": "INTEGER", "video_id": "INTEGER",
			}, Adopt: adopt("playlist_videos", "position INTEGER", "added_at")},
		},
		Indexes: []IndexDef{
			{Name: "idx_competitors_channel_id", Table: "competitors", DDL: "CREATE UNIQUE INDEX IF NOT EXISTS idx_competitors_channel_id ON competitors(channel_id)"},
			{Name: "idx_competitors_channel_url", Table: "competitors", DDL: "CREATE UNIQUE INDEX IF NOT EXISTS idx_competitors_channel_url ON competitors(channel_url)"},
			{Name: "idx_videos_video_id", Table: "videos", DDL: "CREATE UNIQUE INDEX IF NOT EXISTS idx_videos_video_id ON videos(video_id)"},
			{Name: "idx_videos_competitor_id", Table: "videos", DDL: "CREATE INDEX IF NOT EXISTS idx_videos_competitor_id ON videos(competitor_id)"},
			{Name: "idx_videos_published_at", Table: "videos", DDL: "CREATE INDEX IF NOT EXISTS idx_videos_published_at ON videos(published_at)"},
			{Name: "idx_videos_view_count", Table: "videos", DDL: "CREATE INDEX IF NOT EXISTS idx_videos_view_count ON videos(view_count)"},
			{Name: "idx_playlists_playlist_id", Table: "playlists", DDL: "CREATE UNIQUE INDEX IF NOT EXISTS idx_playlists_playlist_id ON playlists(playlist_id)"},
			{Name: "idx_playlists_competitor_id", Table: "playlists", DDL: "CREATE INDEX IF NOT EXISTS idx_playlists_competitor_id ON playlists(competitor_id)"},
			{Name: "idx_playlist_videos_playlist", Table: "playlist_videos", DDL: "CREATE INDEX IF NOT EXISTS idx_playlist_videos_playlist ON playlist_videos(playlist_id)"},
			{Name: "idx_playlist_videos_video", Table: "playlist_videos", DDL: "CREATE INDEX IF NOT EXISTS idx_playlist_videos_video ON playlist_videos(video_id)"},
		},
	},
	{
		Version: 2,
		Name:    "stats history",
		Tables: []TableDef{
			{Name: "stats_history", DDL: statsHistoryTable, Columns: map[string]string{
				"id": "INTEGER", "competitor_id": "INTEGER", "recorded_at": "TEXT",
			}, Adopt: adopt("stats_history",
				"subscriber_count INTEGER NOT NULL DEFAULT 0", "view_count INTEGER NOT NULL DEFAULT 0",
				"video_count INTEGER NOT NULL DEFAULT 0", "subscriber_delta INTEGER NOT NULL DEFAULT 0",
				"view_delta INTEGER NOT NULL DEFAULT 0", "video_delta INTEGER NOT NULL DEFAULT 0",
				"notes TEXT")},
		},
		Indexes: []IndexDef{
			{Name: "idx_stats_history_competitor", Table: "stats_history", DDL: "CREATE INDEX IF NOT EXISTS idx_stats_history_competitor ON stats_history(competitor_id)"},
			{Name: "idx_stats_history_recorded_at", Table: "stats_history", DDL: "CREATE INDEX IF NOT EXISTS idx_stats_history_recorded_at ON stats_history(recorded_at)"},
		},
		After: func(ctx context.Context, tx *sqlx.Tx) error {
			_, err := SeedSnapshots(ctx, tx, Now())
			return err
		},
	},
	{
		Version: 3,
		Name:    "frequency stats",
		Tables: []TableDef{
			{Name: "frequency_stats", DDL: frequencyStatsTable, Columns: map[string]string{
				"competitor_id": "INTEGER", "total_videos": "INTEGER", "total_weeks": "INTEGER",
				"avg_videos_per_week": "REAL", "calculation_method": "TEXT",
			}, Adopt: adopt("frequency_stats",
				"hero_count INTEGER NOT NULL DEFAULT 0", "hub_count INTEGER NOT NULL DEFAULT 0",
				"help_count INTEGER NOT NULL DEFAULT 0", "hero_per_week REAL NOT NULL DEFAULT 0",
				"hub_per_week REAL NOT NULL DEFAULT 0", "help_per_week REAL NOT NULL DEFAULT 0",
				"first_published TEXT", "last_published TEXT", "last_updated")},
		},
	},
	{
		Version: 4,
		Name:    "video sentiment",
		Columns: []ColumnDef{
			{Table: "videos", Name: "sentiment_label", Type: "TEXT"},
			{Table: "videos", Name: "sentiment_score", Type: "REAL"},
		},
		Indexes: []IndexDef{
			{Name: "idx_videos_category", Table: "videos", DDL: "CREATE INDEX IF NOT EXISTS idx_videos_category ON videos(category)"},
			{Name: "idx_videos_sentiment", Table: "videos", DDL: "CREATE INDEX IF NOT EXISTS idx_videos_sentiment ON videos(sentiment_label)"},
		},
	},
}

// adopt builds the columns a pre-existing table gains. Each entry is
// "name TYPE [constraint]"; a bare name is a timestamp stamped with the
// migration time.
func adopt(table string, decls ...string) []ColumnDef {
	out := make([]ColumnDef, 0, len(decls))
	for _, d := range decls {
		f := strings.Fields(d)
		if len(f) == 1 {
			out = append(out, ColumnDef{Table: table, Name: f[0], Type: "TEXT", Stamp: true})
			continue
		}
		out = append(out, ColumnDef{Table: table, Name: f[0], Type: f[1], Constraint: strings.Join(f[2:], " ")})
	}
	return out
}

// LatestVersion is the schema version a fully migrated database reports.
func LatestVersion() int {
	return migrations[len(migrations)-1].Version
}
