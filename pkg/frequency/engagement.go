package frequency

import (
	"context"
	"math"

	apperrors "github.com/elonfeng/ytradar/internal/errors"
)

// Engagement aggregates audience response over a competitor's videos.
// Only videos with a positive view count take part.
type Engagement struct {
	CompetitorID   int64            `json:"competitor_id"`
	Videos         int64            `json:"videos"`
	TotalViews     int64            `json:"total_views"`
	AvgViews       float64          `json:"avg_views"`
	AvgLikes       float64          `json:"avg_likes"`
	AvgComments    float64          `json:"avg_comments"`
	EngagementRate float64          `json:"engagement_rate"`
	Sentiment      map[string]int64 `json:"sentiment,omitempty"`
	AvgSentiment   *float64         `json:"avg_sentiment_score,omitempty"`
}

// Engagement computes engagement metrics for one competitor. The rate is
// (likes + comments) / views, as a fraction rounded to four decimals.
func (e *Engine) Engagement(ctx context.Context, competitorID int64) (*Engagement, error) {
	if _, err := e.store.GetCompetitor(ctx, competitorID); err != nil {
		return nil, err
	}

	var agg struct {
		Videos   int64 `db:"videos"`
		Views    int64 `db:"views"`
		Likes    int64 `db:"likes"`
		Comments int64 `db:"comments"`
	}
	err := e.store.DB().GetContext(ctx, &agg, `
		SELECT COUNT(*) AS videos,
		       COALESCE(SUM(view_count), 0) AS views,
		       COALESCE(SUM(like_count), 0) AS likes,
		       COALESCE(SUM(comment_count), 0) AS comments
		FROM videos
		WHERE competitor_id = ? AND view_count > 0`, competitorID)
	if err != nil {
		return nil, apperrors.ClassifyStorage("aggregate engagement", err)
	}

	out := &Engagement{CompetitorID: competitorID, Videos: agg.Videos, TotalViews: agg.Views}
	if agg.Videos > 0 {
		n := float64(agg.Videos)
		out.AvgViews = round2(float64(agg.Views) / n)
		out.AvgLikes = round2(float64(agg.Likes) / n)
		out.AvgComments = round2(float64(agg.Comments) / n)
		out.EngagementRate = round4(float64(agg.Likes+agg.Comments) / float64(agg.Views))
	}

	var labels []struct {
		Label string   `db:"label"`
		Count  int64    `db:"n"`
		Scored int64    `db:"scored"`
		Score  *float64 `db:"score"`
	}
	err = e.store.DB().SelectContext(ctx, &labels, `
		SELECT sentiment_label AS label, COUNT(*) AS n, COUNT(sentiment_score) AS scored, AVG(sentiment_score) AS score
		FROM videos
		WHERE competitor_id = ? AND sentiment_label IS NOT NULL
		GROUP BY sentiment_label
		ORDER BY sentiment_label`, competitorID)
	if err != nil {
		return nil, apperrors.ClassifyStorage("aggregate sentiment", err)
	}

	var scored, weighted float64
	for _, l := range labels {
		if out.Sentiment == nil {
			out.Sentiment = make(map[string]int64, len(labels))
		}
		out.Sentiment[l.Label] = l.Count
		if l.Score != nil {
			scored += float64(l.Scored)
			weighted += *l.Score * float64(l.Scored)
		}
	}
	if scored > 0 {
		avg := round4(weighted / scored)
		out.AvgSentiment = &avg
	}
	return out, nil
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
