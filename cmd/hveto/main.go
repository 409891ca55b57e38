package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/hveto/internal/config"
	"github.com/rewired-gh/hveto/internal/logger"
	"github.com/rewired-gh/hveto/internal/models"
	"github.com/rewired-gh/hveto/internal/notify"
	"github.com/rewired-gh/hveto/internal/segments"
	"github.com/rewired-gh/hveto/internal/storage"
	"github.com/rewired-gh/hveto/internal/trigio"
	"github.com/rewired-gh/hveto/internal/veto"
)

// configList collects repeated -config flags in order.
type configList []string

func (c *configList) String() string { return fmt.Sprint(*c) }

func (c *configList) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configPaths configList
	ifo         = flag.String("ifo", "", "Interferometer prefix (overrides config)")
	nproc       = flag.Int("j", 0, "Number of parallel workers (overrides config)")
	outputDir   = flag.String("output-dir", "", "Output directory (overrides config)")
)

func main() {
	flag.Var(&configPaths, "config", "Path to configuration file (repeatable, later files override)")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <gpsstart> <gpsend>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	gpsStart, err := strconv.ParseFloat(flag.Arg(0), 64)
	if err != nil {
		log.Fatalf("Invalid GPS start time %q: %v", flag.Arg(0), err)
	}
	gpsEnd, err := strconv.ParseFloat(flag.Arg(1), 64)
	if err != nil {
		log.Fatalf("Invalid GPS end time %q: %v", flag.Arg(1), err)
	}
	if gpsEnd <= gpsStart {
		log.Fatalf("GPS end %f must be after GPS start %f", gpsEnd, gpsStart)
	}

	if len(configPaths) == 0 {
		configPaths = configList{"configs/hveto.yaml"}
	}
	cfg, err := config.Load(configPaths...)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *ifo != "" {
		cfg.Analysis.IFO = *ifo
	}
	if *nproc > 0 {
		cfg.Analysis.Nproc = *nproc
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %v", configPaths)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, gpsStart, gpsEnd); err != nil {
		logger.Fatal("Run failed: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, gpsStart, gpsEnd float64) error {
	analysis, err := loadAnalysisSegments(cfg, gpsStart, gpsEnd)
	if err != nil {
		return err
	}
	logger.Info("Analysis span %d-%d: %.1f s livetime in %d segment(s)",
		int64(gpsStart), int64(gpsEnd), analysis.Duration(), len(analysis))

	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	run := &models.Run{
		ID:             uuid.New().String(),
		IFO:            cfg.Analysis.IFO,
		GPSStart:       gpsStart,
		GPSEnd:         gpsEnd,
		PrimaryChannel: cfg.Channels.Primary,
		CreatedAt:      time.Now(),
	}
	if err := store.CreateRun(run); err != nil {
		return err
	}
	logger.Info("Run %s: primary %s, %d auxiliary channels",
		run.ID, cfg.Channels.Primary, len(cfg.Channels.Auxiliary))

	opts := trigio.Options{
		Dir:    cfg.Triggers.Dir,
		MinSNR: cfg.Triggers.MinSNR,
		Span:   analysis,
		Nproc:  cfg.Analysis.Nproc,
	}
	primary, err := trigio.LoadChannel(cfg.Channels.Primary, opts)
	if err != nil {
		return err
	}
	aux, err := trigio.LoadAll(ctx, cfg.Channels.Auxiliary, opts)
	if err != nil {
		return err
	}
	if err := store.RecordChannel(run.ID, primary); err != nil {
		return err
	}
	for _, table := range aux {
		if err := store.RecordChannel(run.ID, table); err != nil {
			return err
		}
	}

	var notifier *notify.Client
	if cfg.Telegram.Enabled {
		notifier, err = notify.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
	}

	scanner := veto.NewScanner(veto.Config{
		SNRThresholds:       cfg.Analysis.SNRThresholds,
		TimeWindows:         cfg.Analysis.TimeWindows,
		MinimumSignificance: cfg.Analysis.MinimumSignificance,
		Nproc:               cfg.Analysis.Nproc,
	}, cfg.Channels.Auxiliary, &roundSink{
		store:    store,
		runID:    run.ID,
		ifo:      cfg.Analysis.IFO,
		dir:      cfg.Output.Dir,
		gpsStart: gpsStart,
		gpsEnd:   gpsEnd,
	})

	rounds, err := scanner.Run(ctx, primary, aux, analysis)
	if err != nil {
		if notifier != nil {
			if sendErr := notifier.SendError(err); sendErr != nil {
				logger.Warn("Failed to send failure notification: %v", sendErr)
			}
		}
		return err
	}

	logSummary(rounds)
	if notifier != nil {
		if err := notifier.SendSummary(run, rounds); err != nil {
			logger.Warn("Failed to send summary notification: %v", err)
		}
	}
	return nil
}

// loadAnalysisSegments restricts the run to the configured segment file when
// one is given, defaulting to the full [gpsstart, gpsend) span.
func loadAnalysisSegments(cfg *config.Config, gpsStart, gpsEnd float64) (segments.List, error) {
	span := segments.List{{Start: gpsStart, End: gpsEnd}}
	if cfg.Triggers.SegmentFile == "" {
		return span, nil
	}
	fromFile, err := segments.ReadFile(cfg.Triggers.SegmentFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis segments: %w", err)
	}
	// Clip to the requested span.
	clipped := segments.Subtract(span, segments.Subtract(span, fromFile))
	if len(clipped) == 0 {
		logger.Warn("Segment file %s leaves no livetime in [%d, %d)",
			cfg.Triggers.SegmentFile, int64(gpsStart), int64(gpsEnd))
	}
	return clipped, nil
}

// roundSink persists each finalized round: a plain-text veto segment file in
// the output directory plus a row in the sqlite archive.
type roundSink struct {
	store    *storage.Storage
	runID    string
	ifo      string
	dir      string
	gpsStart float64
	gpsEnd   float64
}

func (s *roundSink) SaveRound(r *models.Round) error {
	name := segments.VetoFileName(s.ifo, r.N, s.gpsStart, s.gpsEnd)
	if err := segments.WriteFile(filepath.Join(s.dir, name), r.Vetoes); err != nil {
		return err
	}
	logger.Debug("Round %d veto segments written to %s", r.N, name)
	return s.store.SaveRound(s.runID, r)
}

func logSummary(rounds map[int]*models.Round) {
	if len(rounds) == 0 {
		logger.Info("No round reached the minimum significance; nothing vetoed")
		return
	}
	last := rounds[len(rounds)]
	logger.Info("Analysis complete: %d rounds, cumulative efficiency %.1f%%, cumulative deadtime %.2f%%",
		len(rounds), last.CumEfficiency.Percent(), last.CumDeadtime.Percent())
}
