// Package storage provides SQLite-backed archival of analysis runs, rounds,
// and veto segments.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rewired-gh/hveto/internal/models"
	"github.com/rewired-gh/hveto/internal/segments"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/hveto/archive.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "hveto", "archive.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id              TEXT PRIMARY KEY,
			ifo             TEXT NOT NULL,
			gps_start       REAL NOT NULL,
			gps_end         REAL NOT NULL,
			primary_channel TEXT NOT NULL,
			created_at      INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS channels (
			run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			channel     TEXT NOT NULL,
			ntriggers   INTEGER NOT NULL,
			fingerprint TEXT NOT NULL,
			PRIMARY KEY (run_id, channel)
		)`,
		`CREATE TABLE IF NOT EXISTS rounds (
			run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			n              INTEGER NOT NULL,
			winner_channel TEXT NOT NULL,
			significance   REAL NOT NULL,
			snr            REAL NOT NULL,
			time_window    REAL NOT NULL,
			nevents        INTEGER NOT NULL,
			livetime       REAL NOT NULL,
			eff_num        REAL NOT NULL,
			eff_den        REAL NOT NULL,
			use_num        REAL NOT NULL,
			use_den        REAL NOT NULL,
			cum_eff_num    REAL NOT NULL,
			cum_eff_den    REAL NOT NULL,
			cum_dead_num   REAL NOT NULL,
			cum_dead_den   REAL NOT NULL,
			created_at     INTEGER NOT NULL,
			PRIMARY KEY (run_id, n)
		)`,
		`CREATE TABLE IF NOT EXISTS veto_segments (
			run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			round     INTEGER NOT NULL,
			seg_start REAL NOT NULL,
			seg_end   REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_veto_segments_round ON veto_segments(run_id, round)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateRun records a new analysis run.
func (s *Storage) CreateRun(run *models.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run ID must not be empty")
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, ifo, gps_start, gps_end, primary_channel, created_at)
		VALUES (?,?,?,?,?,?)`,
		run.ID, run.IFO, run.GPSStart, run.GPSEnd, run.PrimaryChannel, run.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// RecordChannel archives the loaded population and content fingerprint of one
// channel's trigger table for a run.
func (s *Storage) RecordChannel(runID string, table models.TriggerTable) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO channels (run_id, channel, ntriggers, fingerprint)
		VALUES (?,?,?,?)`,
		runID, table.Channel, table.Len(), fmt.Sprintf("%016x", table.Fingerprint),
	)
	if err != nil {
		return fmt.Errorf("failed to record channel: %w", err)
	}
	return nil
}

// SaveRound archives a finalized round and its veto segments.
func (s *Storage) SaveRound(runID string, r *models.Round) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO rounds
			(run_id, n, winner_channel, significance, snr, time_window, nevents, livetime,
			 eff_num, eff_den, use_num, use_den,
			 cum_eff_num, cum_eff_den, cum_dead_num, cum_dead_den, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		runID, r.N, r.Winner.Channel, r.Winner.Significance, r.Winner.SNR, r.Winner.Window,
		r.Winner.NEvents, r.Livetime(),
		r.Efficiency.Num, r.Efficiency.Den, r.UsePercentage.Num, r.UsePercentage.Den,
		r.CumEfficiency.Num, r.CumEfficiency.Den, r.CumDeadtime.Num, r.CumDeadtime.Den,
		time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert round: %w", err)
	}

	for _, seg := range r.Vetoes {
		if _, err := tx.Exec(`
			INSERT INTO veto_segments (run_id, round, seg_start, seg_end) VALUES (?,?,?,?)`,
			runID, r.N, seg.Start, seg.End); err != nil {
			return fmt.Errorf("failed to insert veto segment: %w", err)
		}
	}

	return tx.Commit()
}

// LoadRounds returns a run's archived rounds keyed by round number, with the
// veto segment lists rebuilt. The per-round input segment lists are not
// archived and come back empty.
func (s *Storage) LoadRounds(runID string) (map[int]*models.Round, error) {
	rows, err := s.db.Query(`
		SELECT n, winner_channel, significance, snr, time_window, nevents,
		       eff_num, eff_den, use_num, use_den,
		       cum_eff_num, cum_eff_den, cum_dead_num, cum_dead_den
		FROM rounds WHERE run_id = ? ORDER BY n`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds: %w", err)
	}
	defer rows.Close()

	rounds := make(map[int]*models.Round)
	for rows.Next() {
		var r models.Round
		var w models.Winner
		err := rows.Scan(
			&r.N, &w.Channel, &w.Significance, &w.SNR, &w.Window, &w.NEvents,
			&r.Efficiency.Num, &r.Efficiency.Den, &r.UsePercentage.Num, &r.UsePercentage.Den,
			&r.CumEfficiency.Num, &r.CumEfficiency.Den, &r.CumDeadtime.Num, &r.CumDeadtime.Den,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		r.Winner = &w
		rounds[r.N] = &r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for n, r := range rounds {
		vetoes, err := s.loadVetoSegments(runID, n)
		if err != nil {
			return nil, err
		}
		r.Vetoes = vetoes
	}
	return rounds, nil
}

func (s *Storage) loadVetoSegments(runID string, round int) (segments.List, error) {
	rows, err := s.db.Query(`
		SELECT seg_start, seg_end FROM veto_segments
		WHERE run_id = ? AND round = ? ORDER BY seg_start`, runID, round)
	if err != nil {
		return nil, fmt.Errorf("failed to query veto segments: %w", err)
	}
	defer rows.Close()

	var list segments.List
	for rows.Next() {
		var seg segments.Segment
		if err := rows.Scan(&seg.Start, &seg.End); err != nil {
			return nil, fmt.Errorf("failed to scan veto segment: %w", err)
		}
		list = append(list, seg)
	}
	return list, rows.Err()
}

// GetRun returns an archived run by ID.
func (s *Storage) GetRun(id string) (*models.Run, error) {
	row := s.db.QueryRow(`
		SELECT id, ifo, gps_start, gps_end, primary_channel, created_at
		FROM runs WHERE id = ?`, id)
	var run models.Run
	var createdAtNano int64
	err := row.Scan(&run.ID, &run.IFO, &run.GPSStart, &run.GPSEnd, &run.PrimaryChannel, &createdAtNano)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	run.CreatedAt = time.Unix(0, createdAtNano)
	return &run, nil
}
