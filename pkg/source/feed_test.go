package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/elonfeng/ytradar/internal/ingest"
	"github.com/elonfeng/ytradar/internal/store/storetest"
)

const acmeFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns:media="http://search.yahoo.com/mrss/" xmlns="http://www.w3.org/2005/Atom">
 <id>yt:channel:UCacme</id>
 <yt:channelId>UCacme</yt:channelId>
 <title>Acme Studio</title>
 <author><name>Acme Studio</name><uri>https://www.youtube.com/channel/UCacme</uri></author>
 <published>2019-01-01T00:00:00+00:00</published>
 <entry>
  <id>yt:video:vid1</id>
  <yt:videoId>vid1</yt:videoId>
  <yt:channelId>UCacme</yt:channelId>
  <title>How to bake bread</title>
  <link rel="alternate" href="https://www.youtube.com/watch?v=vid1"/>
  <published>2024-05-01T10:00:00+00:00</published>
  <updated>2024-05-02T10:00:00+00:00</updated>
  <media:group>
   <media:title>How to bake bread</media:title>
   <media:community>
    <media:starRating count="10" average="5.00" min="1" max="5"/>
    <media:statistics views="1234"/>
   </media:community>
  </media:group>
 </entry>
 <entry>
  <id>yt:video:vid2</id>
  <title>Studio tour</title>
  <link rel="alternate" href="https://www.youtube.com/watch?v=vid2"/>
  <published>2024-04-20T08:30:00+00:00</published>
 </entry>
</feed>`

func newFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("channel_id") != "UCacme" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(acmeFeed))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFeedCollect(t *testing.T) {
	srv := newFeedServer(t)
	f := NewFeed(srv.URL+"/feeds/videos.xml", []string{"UCacme", "UCgone"}, NewClassifier(nil, nil), nil)

	b, err := f.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if b.Source != NameFeed {
		t.Errorf("source = %q", b.Source)
	}
	if len(b.Competitors) != 1 {
		t.Fatalf("competitors = %d, want 1 (missing channel skipped)", len(b.Competitors))
	}
	c := b.Competitors[0]
	if c.ChannelID != "UCacme" || c.Name == nil || *c.Name != "Acme Studio" ||
		c.ChannelURL == nil || *c.ChannelURL != "https://www.youtube.com/channel/UCacme" {
		t.Errorf("competitor = %+v", c.CompetitorRecord)
	}
	if len(c.Videos) != 2 {
		t.Fatalf("videos = %d, want 2", len(c.Videos))
	}

	v1, v2 := c.Videos[0], c.Videos[1]
	if v1.VideoID != "vid1" || *v1.Title != "How to bake bread" {
		t.Errorf("first video = %+v", v1)
	}
	if v1.YouTubePublishedAt == nil || *v1.YouTubePublishedAt != "2024-05-01T10:00:00Z" {
		t.Errorf("published = %v", v1.YouTubePublishedAt)
	}
	if v1.ViewCount == nil || *v1.ViewCount != 1234 {
		t.Errorf("views = %v, want 1234", v1.ViewCount)
	}
	if v1.Category == nil || *v1.Category != "help" {
		t.Errorf("category = %v, want help", v1.Category)
	}
	if v2.VideoID != "vid2" || v2.ViewCount != nil || v2.Category != nil {
		t.Errorf("second video = %+v", v2)
	}
}

func TestFeedBatchApplies(t *testing.T) {
	srv := newFeedServer(t)
	s := storetest.New(t)
	b, err := NewFeed(srv.URL, []string{"UCacme"}, nil, nil).Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	res, err := ingest.New(s, nil).ApplyBatch(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	if res.Competitors != 1 || res.Videos != 2 || len(res.Failures) != 0 {
		t.Errorf("result = %+v", res)
	}
	if n := storetest.Count(t, s, "SELECT COUNT(*) FROM videos WHERE youtube_published_at IS NOT NULL"); n != 2 {
		t.Errorf("dated videos = %d, want 2", n)
	}
}

func TestFeedCollectCancelled(t *testing.T) {
	srv := newFeedServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewFeed(srv.URL, []string{"UCacme"}, nil, nil).Collect(ctx); err == nil {
		t.Error("Collect() with cancelled context succeeded")
	}
}
