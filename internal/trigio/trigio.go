// Package trigio loads per-channel trigger tables from a trigger directory.
// Two file layouts are supported: whitespace-separated text ("time snr
// frequency" per row) and JSON arrays of trigger records. Tables come back
// time-sorted, restricted to the analysis segments, and filtered to the
// minimum SNR in use.
package trigio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	jsoniter "github.com/json-iterator/go"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/hveto/internal/logger"
	"github.com/rewired-gh/hveto/internal/models"
	"github.com/rewired-gh/hveto/internal/segments"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options controls how trigger tables are loaded and filtered.
type Options struct {
	Dir    string
	MinSNR float64
	Span   segments.List
	Nproc  int
}

// LoadChannel reads one channel's triggers from dir. Channel names use ':' as
// the interferometer separator, which file names replace with '-'; a ".txt"
// file is preferred, falling back to ".json". A channel with no trigger file
// yields an empty table and a warning rather than an error.
func LoadChannel(channel string, opts Options) (models.TriggerTable, error) {
	table := models.TriggerTable{Channel: channel}
	base := filepath.Join(opts.Dir, strings.ReplaceAll(channel, ":", "-"))

	var (
		triggers []models.Trigger
		err      error
	)
	switch {
	case fileExists(base + ".txt"):
		triggers, err = readTextTriggers(base + ".txt")
	case fileExists(base + ".json"):
		triggers, err = readJSONTriggers(base + ".json")
	default:
		logger.Warn("No trigger file for channel %s under %s", channel, opts.Dir)
		return table, nil
	}
	if err != nil {
		return table, fmt.Errorf("channel %s: %w", channel, err)
	}

	for _, trig := range triggers {
		if trig.SNR < opts.MinSNR {
			continue
		}
		if len(opts.Span) > 0 && !opts.Span.Contains(trig.Time) {
			continue
		}
		table.Triggers = append(table.Triggers, trig)
	}
	table.SortByTime()
	table.Fingerprint = fingerprint(table.Triggers)
	return table, nil
}

// LoadAll fans LoadChannel out across channels on a worker pool of Nproc
// goroutines. Any channel failing to load aborts the whole call.
func LoadAll(ctx context.Context, channels []string, opts Options) (map[string]models.TriggerTable, error) {
	if opts.Nproc < 1 {
		opts.Nproc = 1
	}
	tables := make([]models.TriggerTable, len(channels))
	var progress atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Nproc)
	for i, channel := range channels {
		i, channel := i, channel
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			table, err := LoadChannel(channel, opts)
			if err != nil {
				return err
			}
			tables[i] = table
			done := progress.Add(1)
			logger.Debug("Loaded %d/%d channels: %s triggers=%s fingerprint=%016x",
				done, len(channels), channel, humanize.Comma(int64(table.Len())), table.Fingerprint)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("trigger loading failed: %w", err)
	}

	out := make(map[string]models.TriggerTable, len(channels))
	total := 0
	for _, table := range tables {
		out[table.Channel] = table
		total += table.Len()
	}
	logger.Info("Loaded %s triggers across %d channels", humanize.Comma(int64(total)), len(channels))
	return out, nil
}

func readTextTriggers(path string) ([]models.Trigger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trigger file: %w", err)
	}
	var triggers []models.Trigger
	for lineno, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, fmt.Errorf("%s:%d: expected \"<time> <snr> <frequency>\", got %q", path, lineno+1, line)
		}
		var trig models.Trigger
		var parseErr error
		if trig.Time, parseErr = strconv.ParseFloat(fields[0], 64); parseErr == nil {
			if trig.SNR, parseErr = strconv.ParseFloat(fields[1], 64); parseErr == nil {
				trig.Frequency, parseErr = strconv.ParseFloat(fields[2], 64)
			}
		}
		if parseErr != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineno+1, parseErr)
		}
		triggers = append(triggers, trig)
	}
	return triggers, nil
}

func readJSONTriggers(path string) ([]models.Trigger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trigger file: %w", err)
	}
	var triggers []models.Trigger
	if err := json.Unmarshal(data, &triggers); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return triggers, nil
}

// fingerprint hashes a table's times and SNRs into a stable content ID used
// for input provenance in logs and the round archive.
func fingerprint(triggers []models.Trigger) uint64 {
	buf := make([]byte, 0, 16*len(triggers))
	var scratch [8]byte
	for _, trig := range triggers {
		binary.LittleEndian.PutUint64(scratch[:], math.Float64bits(trig.Time))
		buf = append(buf, scratch[:]...)
		binary.LittleEndian.PutUint64(scratch[:], math.Float64bits(trig.SNR))
		buf = append(buf, scratch[:]...)
	}
	return xxh3.Hash(buf)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
