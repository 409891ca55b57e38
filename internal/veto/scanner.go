package veto

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/hveto/internal/logger"
	"github.com/rewired-gh/hveto/internal/models"
	"github.com/rewired-gh/hveto/internal/segments"
)

// Config holds the sweep parameters for one analysis.
type Config struct {
	SNRThresholds       []float64
	TimeWindows         []float64
	MinimumSignificance float64
	Nproc               int
}

// Sink receives each finalized round for persistence (segment file, archive
// row). A Sink error aborts the run.
type Sink interface {
	SaveRound(r *models.Round) error
}

// Scanner drives the round loop: evaluate a winner, apply its vetoes, update
// cumulative statistics, persist, repeat until no channel reaches the minimum
// significance. Rounds are strictly sequential; each round's pruned tables and
// shrunken livetime are the next round's inputs.
type Scanner struct {
	cfg   Config
	order []string
	sink  Sink
}

// NewScanner creates a scanner over a fixed auxiliary channel order. The order
// decides winner tie-breaks, so callers must keep it stable across runs for
// reproducible results. sink may be nil to skip persistence.
func NewScanner(cfg Config, order []string, sink Sink) *Scanner {
	if cfg.Nproc < 1 {
		cfg.Nproc = 1
	}
	return &Scanner{cfg: cfg, order: order, sink: sink}
}

// cumulative is the explicit accumulator threaded from round to round. The
// denominators are fixed at round 1: total primary triggers before any
// vetoing and the total analysis livetime.
type cumulative struct {
	removed      float64
	deadtime     float64
	primaryTotal float64
	liveTotal    float64
}

// Run executes rounds until the best winner falls below the minimum
// significance, returning the archive of finalized rounds keyed by round
// number. The input tables are never modified; every round operates on fresh
// snapshots.
func (s *Scanner) Run(ctx context.Context, primary models.TriggerTable,
	aux map[string]models.TriggerTable, analysis segments.List) (map[int]*models.Round, error) {

	tables := make(map[string]models.TriggerTable, len(aux))
	for name, table := range aux {
		tables[name] = table
	}

	cum := cumulative{
		primaryTotal: float64(primary.Len()),
		liveTotal:    analysis.Duration(),
	}
	if primary.Len() == 0 {
		logger.Warn("Primary channel %s has no triggers; analysis will terminate at round 1", primary.Channel)
	}

	rounds := make(map[int]*models.Round)
	live := analysis

	for n := 1; ; n++ {
		livetime := live.Duration()
		logger.Info("Round %d: %s primary triggers, %.1f s livetime",
			n, humanize.Comma(int64(primary.Len())), livetime)
		if livetime <= 0 {
			logger.Warn("Round %d: livetime exhausted; significance floor forces termination", n)
		}

		winner, err := EvaluateRound(ctx, tables, s.order, primary.Times(),
			s.cfg.SNRThresholds, s.cfg.TimeWindows, livetime, s.cfg.Nproc)
		if err != nil {
			return rounds, fmt.Errorf("round %d: %w", n, err)
		}
		if winner.Significance < s.cfg.MinimumSignificance {
			logger.Info("Round %d: best significance %.2f below minimum %.2f, terminating",
				n, winner.Significance, s.cfg.MinimumSignificance)
			return rounds, nil
		}

		winnerTable := tables[winner.Channel]
		vetoes := VetoSegments(winnerTable, winner.SNR, winner.Window)
		if len(vetoes) == 0 {
			logger.Warn("Round %d: winner %s yields no veto segments, terminating", n, winner.Channel)
			return rounds, nil
		}

		primaryKept, primaryRemoved := Apply(primary, vetoes)
		used := CountUsed(winnerTable.AboveSNR(winner.SNR), vetoes)

		next := segments.Subtract(live, vetoes)
		cum.removed += float64(primaryRemoved.Len())
		cum.deadtime += livetime - next.Duration()

		round := &models.Round{
			N:             n,
			Segments:      live,
			Winner:        &winner,
			Vetoes:        vetoes,
			Efficiency:    models.Fraction{Num: float64(primaryRemoved.Len()), Den: float64(primary.Len())},
			UsePercentage: models.Fraction{Num: float64(used), Den: float64(winnerTable.Len())},
			CumEfficiency: models.Fraction{Num: cum.removed, Den: cum.primaryTotal},
			CumDeadtime:   models.Fraction{Num: cum.deadtime, Den: cum.liveTotal},
		}
		logRoundStats(round)

		if s.sink != nil {
			if err := s.sink.SaveRound(round); err != nil {
				return rounds, fmt.Errorf("round %d: failed to persist: %w", n, err)
			}
		}
		rounds[n] = round

		// Prune every table with the same vetoes so round n+1 sees only
		// surviving triggers.
		pruned := make(map[string]models.TriggerTable, len(tables))
		for name, table := range tables {
			keptTable, _ := Apply(table, vetoes)
			pruned[name] = keptTable
		}
		tables = pruned
		primary = primaryKept
		live = next
	}
}

func logRoundStats(r *models.Round) {
	deadtime := r.Livetime() - segments.Subtract(r.Segments, r.Vetoes).Duration()
	logger.Info("Round %d winner: channel=%s significance=%.2f snr=%.1f window=%.2f nevents=%d",
		r.N, r.Winner.Channel, r.Winner.Significance, r.Winner.SNR, r.Winner.Window, r.Winner.NEvents)
	logger.Info("Round %d stats: use-percentage=%.1f%% efficiency=%.1f%% (%d/%d) deadtime=%.1f s "+
		"cum-efficiency=%.1f%% cum-deadtime=%.2f%%",
		r.N, r.UsePercentage.Percent(), r.Efficiency.Percent(),
		int(r.Efficiency.Num), int(r.Efficiency.Den), deadtime,
		r.CumEfficiency.Percent(), r.CumDeadtime.Percent())
}
