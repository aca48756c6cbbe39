package frequency

import (
	"math"
	"sort"
	"time"

	"github.com/elonfeng/ytradar/internal/store"
)

// DatedVideo is the part of a video the cadence calculation reads.
type DatedVideo struct {
	// Date is the effective publication date, nil when unknown.
	Date     *time.Time
	Category *string
}

// Result is the cadence of one competitor.
type Result struct {
	TotalVideos    int64
	TotalWeeks     int64
	AvgPerWeek     float64
	Counts         map[store.Category]int64
	PerWeek        map[store.Category]float64
	FirstPublished *time.Time
	LastPublished  *time.Time
	Method         string
}

// Compute derives publishing cadence from a competitor's videos.
//
// With fewer than two dated videos the span is unknown: one week is assumed
// and the average equals the video count. Otherwise the span between the
// first and last effective dates, in whole days, is turned into weeks
// (rounded, at least one). Undated videos still count toward totals.
// Videos without a category are counted as hub; this is the only place that
// fallback applies.
func Compute(videos []DatedVideo) Result {
	res := Result{
		TotalVideos: int64(len(videos)),
		Counts:      make(map[store.Category]int64, len(store.Categories)),
		PerWeek:     make(map[store.Category]float64, len(store.Categories)),
	}

	var dated []time.Time
	for _, v := range videos {
		res.Counts[categoryOf(v)]++
		if v.Date != nil {
			dated = append(dated, v.Date.UTC())
		}
	}
	sort.Slice(dated, func(i, j int) bool { return dated[i].Before(dated[j]) })

	if len(dated) > 0 {
		first, last := dated[0], dated[len(dated)-1]
		res.FirstPublished, res.LastPublished = &first, &last
	}

	if len(dated) < 2 {
		res.TotalWeeks = 1
		res.AvgPerWeek = float64(res.TotalVideos)
		res.Method = store.MethodSimpleEstimate
	} else {
		spanDays := math.Floor(dated[len(dated)-1].Sub(dated[0]).Hours() / 24)
		res.TotalWeeks = int64(math.Max(1, math.Round(spanDays/7)))
		res.AvgPerWeek = round2(float64(res.TotalVideos) / float64(res.TotalWeeks))
		res.Method = store.MethodRealDates
	}

	for _, c := range store.Categories {
		res.PerWeek[c] = round2(float64(res.Counts[c]) / float64(res.TotalWeeks))
	}
	return res
}

// Stats converts the result into the cached row for a competitor.
func (r Result) Stats(competitorID int64, now time.Time) store.FrequencyStats {
	fs := store.FrequencyStats{
		CompetitorID:      competitorID,
		TotalVideos:       r.TotalVideos,
		TotalWeeks:        r.TotalWeeks,
		AvgVideosPerWeek:  r.AvgPerWeek,
		HeroCount:         r.Counts[store.CategoryHero],
		HubCount:          r.Counts[store.CategoryHub],
		HelpCount:         r.Counts[store.CategoryHelp],
		HeroPerWeek:       r.PerWeek[store.CategoryHero],
		HubPerWeek:        r.PerWeek[store.CategoryHub],
		HelpPerWeek:       r.PerWeek[store.CategoryHelp],
		CalculationMethod: r.Method,
		LastUpdated:       store.NewTime(now),
	}
	if r.FirstPublished != nil {
		fs.FirstPublished = store.NullTimeFrom(*r.FirstPublished)
	}
	if r.LastPublished != nil {
		fs.LastPublished = store.NullTimeFrom(*r.LastPublished)
	}
	return fs
}

func categoryOf(v DatedVideo) store.Category {
	if v.Category != nil {
		if c, ok := store.ParseCategory(*v.Category); ok {
			return c
		}
	}
	return store.CategoryHub
}

// round2 rounds half away from zero to two decimals.
func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
