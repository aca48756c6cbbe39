package ingest

import (
	"context"
	"fmt"

	apperrors "github.com/elonfeng/ytradar/internal/errors"
)

// ItemFailure records one record ApplyBatch could not apply.
type ItemFailure struct {
	Item  string `json:"item"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

// BatchResult summarizes an ApplyBatch run.
type BatchResult struct {
	Source        string        `json:"source,omitempty"`
	Competitors   int           `json:"competitors"`
	Videos        int           `json:"videos"`
	Playlists     int           `json:"playlists"`
	Links         int           `json:"links"`
	CompetitorIDs []int64       `json:"competitor_ids"`
	Failures      []ItemFailure `json:"failures,omitempty"`
}

// ApplyBatch upserts every record of b. Invalid records are collected in the
// result and skipped. Storage failures and cancellation abort the batch.
func (k *Sink) ApplyBatch(ctx context.Context, b *Batch) (*BatchResult, error) {
	res := &BatchResult{Source: b.Source}

	for _, cb := range b.Competitors {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		cid, err := k.UpsertCompetitor(ctx, cb.CompetitorRecord)
		if err != nil {
			if fatal(ctx, err) {
				return res, err
			}
			k.fail(res, describe("competitor", cb.ChannelID), err)
			continue
		}
		res.Competitors++
		res.CompetitorIDs = append(res.CompetitorIDs, cid)

		videoIDs := make(map[string]int64, len(cb.Videos))
		for _, v := range cb.Videos {
			vid, err := k.UpsertVideo(ctx, cid, v)
			if err != nil {
				if fatal(ctx, err) {
					return res, err
				}
				k.fail(res, describe("video", v.VideoID), err)
				continue
			}
			videoIDs[v.VideoID] = vid
			res.Videos++
		}

		for _, pb := range cb.Playlists {
			pid, err := k.UpsertPlaylist(ctx, cid, pb.PlaylistRecord)
			if err != nil {
				if fatal(ctx, err) {
					return res, err
				}
				k.fail(res, describe("playlist", pb.PlaylistID), err)
				continue
			}
			res.Playlists++

			for _, l := range pb.Videos {
				vid, ok := videoIDs[l.VideoID]
				if !ok {
					vid, err = k.LookupVideo(ctx, l.VideoID)
					if err != nil {
						if fatal(ctx, err) {
							return res, err
						}
						k.fail(res, fmt.Sprintf("link %s/%s", pb.PlaylistID, l.VideoID), err)
						continue
					}
				}
				if err := k.Link(ctx, pid, vid, l.Position); err != nil {
					if fatal(ctx, err) {
						return res, err
					}
					k.fail(res, fmt.Sprintf("link %s/%s", pb.PlaylistID, l.VideoID), err)
					continue
				}
				res.Links++
			}
		}
	}

	k.log.Info("batch applied",
		"source", b.Source,
		"competitors", res.Competitors,
		"videos", res.Videos,
		"playlists", res.Playlists,
		"links", res.Links,
		"failures", len(res.Failures))
	return res, nil
}

func (k *Sink) fail(res *BatchResult, item string, err error) {
	k.log.Warn("batch item skipped", "item", item, "err", err)
	res.Failures = append(res.Failures, ItemFailure{
		Item:  item,
		Code:  apperrors.GetCode(err),
		Error: err.Error(),
	})
}

// fatal reports whether err should stop the whole batch: anything that is
// not a per-record validation or referential problem.
func fatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	switch apperrors.GetCategory(err) {
	case apperrors.CategoryValidation, apperrors.CategoryReferential:
		return false
	}
	return true
}
