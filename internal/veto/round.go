package veto

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/hveto/internal/logger"
	"github.com/rewired-gh/hveto/internal/models"
	"github.com/rewired-gh/hveto/internal/segments"
)

// EvaluateRound sweeps every auxiliary channel for the current round and
// returns the single best winner. order fixes both the iteration and the
// tie-break: when two channels score the same maximal significance the one
// earlier in order wins, regardless of worker count or completion order.
//
// Per-channel estimates fan out on a worker pool of nproc goroutines. A
// missing table for any ordered channel fails the whole round: a silently
// dropped result would bias the maximum-significance selection.
func EvaluateRound(ctx context.Context, tables map[string]models.TriggerTable, order []string,
	primaryTimes []float64, thresholds, windows []float64, livetime float64, nproc int) (models.Winner, error) {

	if nproc < 1 {
		nproc = 1
	}
	results := make([]models.Winner, len(order))
	var progress atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(nproc)
	for i, channel := range order {
		i, channel := i, channel
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			table, ok := tables[channel]
			if !ok {
				return fmt.Errorf("no trigger table for channel %s", channel)
			}
			results[i] = Estimate(primaryTimes, table, thresholds, windows, livetime)
			done := progress.Add(1)
			logger.Debug("Significance sweep %d/%d: %s significance=%.2f",
				done, len(order), channel, results[i].Significance)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.Winner{}, fmt.Errorf("significance sweep failed: %w", err)
	}

	// Deterministic reduction in channel order; strict > keeps the earlier
	// channel on ties.
	var best models.Winner
	for i, w := range results {
		if i == 0 || w.Significance > best.Significance {
			best = w
		}
	}
	return best, nil
}

// VetoSegments derives the veto segment list implied by a winner: one segment
// [t - window/2, t + window/2) per auxiliary trigger at or above the winning
// SNR threshold, coalesced into a disjoint sorted list.
func VetoSegments(aux models.TriggerTable, snrThreshold, window float64) segments.List {
	half := window / 2
	var segs []segments.Segment
	for _, trig := range aux.Triggers {
		if trig.SNR >= snrThreshold {
			segs = append(segs, segments.Segment{Start: trig.Time - half, End: trig.Time + half})
		}
	}
	return segments.Coalesce(segs)
}

// Apply partitions a trigger table by veto segment membership. Both partitions
// preserve the input's relative order and together hold every input trigger
// exactly once.
func Apply(table models.TriggerTable, vetoes segments.List) (kept, removed models.TriggerTable) {
	kept = models.TriggerTable{Channel: table.Channel, Fingerprint: table.Fingerprint}
	removed = models.TriggerTable{Channel: table.Channel, Fingerprint: table.Fingerprint}
	for _, trig := range table.Triggers {
		if vetoes.Contains(trig.Time) {
			removed.Triggers = append(removed.Triggers, trig)
		} else {
			kept.Triggers = append(kept.Triggers, trig)
		}
	}
	return kept, removed
}

// CountUsed counts the table's triggers falling inside the veto segments,
// reporting how much of the winner's trigger population actually produced
// the applied vetoes.
func CountUsed(table models.TriggerTable, vetoes segments.List) int {
	n := 0
	for _, trig := range table.Triggers {
		if vetoes.Contains(trig.Time) {
			n++
		}
	}
	return n
}
