package models

import (
	"time"

	"github.com/rewired-gh/hveto/internal/segments"
)

// Winner is the immutable result of the significance sweep for one channel:
// the (SNR threshold, time window) pair that maximised the significance score,
// along with the score itself and the number of auxiliary triggers at or above
// the chosen threshold.
type Winner struct {
	Channel      string
	SNR          float64
	Window       float64
	Significance float64
	NEvents      int
}

// Fraction is a numerator/denominator pair reported as a percentage, used for
// efficiency, use percentage, and the cumulative statistics.
type Fraction struct {
	Num float64
	Den float64
}

// Percent returns the fraction as a percentage, or 0 when the denominator is 0.
func (f Fraction) Percent() float64 {
	if f.Den == 0 {
		return 0
	}
	return 100 * f.Num / f.Den
}

// Round records one finalized iteration of winner selection and veto
// application. Segments is the livetime available to this round; Vetoes is the
// segment list derived from the winner. Rounds are immutable once finalized:
// round n+1 is built from round n's outputs, never by mutating round n.
type Round struct {
	N        int
	Segments segments.List
	Winner   *Winner
	Vetoes   segments.List

	// Efficiency: primary triggers removed this round over primary triggers
	// before removal. UsePercentage: winner's triggers inside the veto segments
	// over the winning channel's full trigger population.
	Efficiency    Fraction
	UsePercentage Fraction

	// Cumulative statistics with denominators fixed at round 1: total primary
	// triggers before any vetoing, and total livetime of the analysis.
	CumEfficiency Fraction
	CumDeadtime   Fraction
}

// Livetime returns the round's available analysis time in seconds.
func (r *Round) Livetime() float64 {
	return r.Segments.Duration()
}

// Run identifies one complete analysis for archival.
type Run struct {
	ID             string
	IFO            string
	GPSStart       float64
	GPSEnd         float64
	PrimaryChannel string
	CreatedAt      time.Time
}
