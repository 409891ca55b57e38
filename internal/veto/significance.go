// Package veto implements the hierarchical veto core: the coincidence
// significance estimator, the per-round winner sweep, the veto applicator, and
// the round orchestrator.
package veto

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mathext"

	"github.com/rewired-gh/hveto/internal/models"
)

// Estimate sweeps every (SNR threshold, time window) pair for one auxiliary
// channel and returns the combination maximising the coincidence significance
// against the primary trigger times. primaryTimes must be sorted ascending.
//
// The returned Winner is never an error value: with an empty auxiliary table,
// zero livetime, or zero coincidences everywhere, the significance is its
// floor of 0 and the first threshold/window pair is reported.
//
// Estimate is pure and safe to call concurrently across channels.
func Estimate(primaryTimes []float64, aux models.TriggerTable, thresholds, windows []float64, livetime float64) models.Winner {
	best := models.Winner{Channel: aux.Channel}
	if len(thresholds) > 0 {
		best.SNR = thresholds[0]
	}
	if len(windows) > 0 {
		best.Window = windows[0]
	}
	if livetime <= 0 || aux.Len() == 0 || len(primaryTimes) == 0 {
		return best
	}

	for _, threshold := range thresholds {
		auxTimes := aux.AboveSNR(threshold).Times()
		if len(auxTimes) == 0 {
			continue
		}
		for _, window := range windows {
			ncoinc := countCoincidences(auxTimes, primaryTimes, window)
			mu := float64(len(auxTimes)) * float64(len(primaryTimes)) * window / livetime
			sig := significance(ncoinc, mu)
			if sig > best.Significance {
				best.SNR = threshold
				best.Window = window
				best.Significance = sig
				best.NEvents = len(auxTimes)
			}
		}
	}
	return best
}

// countCoincidences counts auxiliary times lying within window/2 of any
// primary time. Both inputs must be sorted ascending.
func countCoincidences(auxTimes, primaryTimes []float64, window float64) int {
	half := window / 2
	n := 0
	for _, t := range auxTimes {
		i := sort.SearchFloat64s(primaryTimes, t)
		if i < len(primaryTimes) && primaryTimes[i]-t < half {
			n++
			continue
		}
		if i > 0 && t-primaryTimes[i-1] < half {
			n++
		}
	}
	return n
}

// significance returns -ln P(X >= n) for a Poisson variable X with mean mu:
// the probability of observing n or more coincidences by chance under the
// uniform-rate null model. Degenerate inputs return the floor of 0 rather
// than faulting.
func significance(n int, mu float64) float64 {
	if n < 1 || mu <= 0 {
		return 0
	}
	// P(X >= n) equals the lower regularized incomplete gamma P(n, mu).
	prob := mathext.GammaIncReg(float64(n), mu)
	if prob > 0 {
		return -math.Log(prob)
	}
	// The survival probability underflowed float64. Approximate ln P via the
	// leading term of the tail sum: P ~ pmf(n) * (n+1)/(n+1-mu) for mu < n+1,
	// which always holds when the exact value underflows.
	fn := float64(n)
	lgamma, _ := math.Lgamma(fn + 1)
	logp := fn*math.Log(mu) - mu - lgamma + math.Log((fn+1)/(fn+1-mu))
	return -logp
}
