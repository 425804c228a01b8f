// Package audit records what each run removed, in a SQLite database and as an
// xlsx report.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"corpusdedup/types"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // register pure-Go SQLite driver
)

// Run statuses
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	loaded     INTEGER NOT NULL DEFAULT 0,
	invalid    INTEGER NOT NULL DEFAULT 0,
	survivors  INTEGER NOT NULL DEFAULT 0,
	started_at TEXT NOT NULL,
	ended_at   TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS stages (
	run_id      TEXT NOT NULL,
	stage       TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	input       INTEGER NOT NULL,
	survivors   INTEGER NOT NULL,
	removed     INTEGER NOT NULL,
	flagged     INTEGER NOT NULL,
	group_count INTEGER NOT NULL,
	from_cache  INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	fingerprint TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	PRIMARY KEY (run_id, stage)
);
CREATE TABLE IF NOT EXISTS duplicate_groups (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id    TEXT NOT NULL,
	stage     TEXT NOT NULL,
	seq       INTEGER NOT NULL,
	group_key TEXT NOT NULL,
	survivor  TEXT NOT NULL,
	size      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS duplicate_groups_run ON duplicate_groups (run_id, stage, seq);
CREATE TABLE IF NOT EXISTS group_members (
	group_id INTEGER NOT NULL REFERENCES duplicate_groups (id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	doc_id   TEXT NOT NULL,
	removed  INTEGER NOT NULL,
	score    REAL,
	PRIMARY KEY (group_id, position)
);
CREATE INDEX IF NOT EXISTS group_members_doc ON group_members (doc_id);
`

// RunRecord is a run as stored in the audit database
type RunRecord struct {
	Summary types.RunSummary
	Status  string
	Error   string
	Groups  map[types.Stage][]types.DuplicateGroup
}

// DB is the audit database
type DB struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the audit database at path.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string, logger zerolog.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db %s: %w", path, err)
	}
	// one writer; also keeps ":memory:" on a single connection
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure audit db: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}
	return &DB{db: db, logger: logger}, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// BeginRun inserts or resets the run row
func (d *DB) BeginRun(ctx context.Context, runID string, startedAt time.Time) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, status, started_at) VALUES (?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET status = excluded.status, error = '', ended_at = ''`,
		runID, StatusRunning, startedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("begin run %s: %w", runID, err)
	}
	return nil
}

// FinishRun stores the final counts and status of a run. runErr nil means success.
func (d *DB) FinishRun(ctx context.Context, summary types.RunSummary, runErr error) error {
	status, msg := StatusSucceeded, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	res, err := d.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, loaded = ?, invalid = ?, survivors = ?, ended_at = ?
		WHERE run_id = ?`,
		status, msg, summary.Loaded, summary.Invalid, summary.Survivors,
		summary.EndedAt.UTC().Format(time.RFC3339Nano), summary.RunID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", summary.RunID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: run was never started", summary.RunID)
	}
	return nil
}

// RecordStage stores a stage summary and its groups, replacing any earlier
// record of the same stage in the run
func (d *DB) RecordStage(ctx context.Context, runID string, summary types.StageSummary, groups []types.DuplicateGroup) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin stage record: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM duplicate_groups WHERE run_id = ? AND stage = ?`, runID, string(summary.Stage)); err != nil {
		return fmt.Errorf("clear previous groups: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO stages
			(run_id, stage, seq, input, survivors, removed, flagged, group_count, from_cache, skipped, fingerprint, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, string(summary.Stage), slices.Index(types.Stages, summary.Stage), summary.Input, summary.Survivors,
		summary.Removed, summary.Flagged, summary.Groups, summary.FromCache, summary.Skipped,
		summary.Fingerprint, summary.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert stage: %w", err)
	}

	groupStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO duplicate_groups (run_id, stage, seq, group_key, survivor, size) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare groups: %w", err)
	}
	defer groupStmt.Close()
	memberStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO group_members (group_id, position, doc_id, removed, score) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare members: %w", err)
	}
	defer memberStmt.Close()

	for i, g := range groups {
		res, err := groupStmt.ExecContext(ctx, runID, string(summary.Stage), i, g.Key, g.Survivor, g.Size())
		if err != nil {
			return fmt.Errorf("insert group %s: %w", g.Key, err)
		}
		groupID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("group id: %w", err)
		}
		for pos, id := range g.Members {
			var score sql.NullFloat64
			if s, ok := g.Scores[id]; ok {
				score = sql.NullFloat64{Float64: s, Valid: true}
			}
			if _, err := memberStmt.ExecContext(ctx, groupID, pos, id, id != g.Survivor, score); err != nil {
				return fmt.Errorf("insert member %s: %w", id, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit stage record: %w", err)
	}
	d.logger.Debug().Str("run_id", runID).Str("stage", string(summary.Stage)).Int("groups", len(groups)).Msg("stage audited")
	return nil
}

// LatestRunID returns the most recently started run
func (d *DB) LatestRunID(ctx context.Context) (string, error) {
	var id string
	err := d.db.QueryRowContext(ctx, `SELECT run_id FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.New("no runs recorded")
	}
	return id, err
}

// LoadRun reads a run with its stages and groups
func (d *DB) LoadRun(ctx context.Context, runID string) (*RunRecord, error) {
	rec := &RunRecord{Groups: make(map[types.Stage][]types.DuplicateGroup)}
	var started, ended string
	err := d.db.QueryRowContext(ctx, `
		SELECT run_id, status, error, loaded, invalid, survivors, started_at, ended_at FROM runs WHERE run_id = ?`, runID).
		Scan(&rec.Summary.RunID, &rec.Status, &rec.Error, &rec.Summary.Loaded, &rec.Summary.Invalid,
			&rec.Summary.Survivors, &started, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	rec.Summary.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	rec.Summary.EndedAt, _ = time.Parse(time.RFC3339Nano, ended)

	if err := d.loadStages(ctx, rec); err != nil {
		return nil, err
	}
	if err := d.loadGroups(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (d *DB) loadStages(ctx context.Context, rec *RunRecord) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT stage, input, survivors, removed, flagged, group_count, from_cache, skipped, fingerprint, duration_ms
		FROM stages WHERE run_id = ? ORDER BY seq`, rec.Summary.RunID)
	if err != nil {
		return fmt.Errorf("load stages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			s  types.StageSummary
			ms int64
		)
		if err := rows.Scan(&s.Stage, &s.Input, &s.Survivors, &s.Removed, &s.Flagged, &s.Groups,
			&s.FromCache, &s.Skipped, &s.Fingerprint, &ms); err != nil {
			return fmt.Errorf("scan stage: %w", err)
		}
		s.Duration = time.Duration(ms) * time.Millisecond
		rec.Summary.Stages = append(rec.Summary.Stages, s)
	}
	return rows.Err()
}

func (d *DB) loadGroups(ctx context.Context, rec *RunRecord) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT g.stage, g.id, g.group_key, g.survivor, m.doc_id, m.removed, m.score
		FROM duplicate_groups g JOIN group_members m ON m.group_id = g.id
		WHERE g.run_id = ?
		ORDER BY g.stage, g.seq, m.position`, rec.Summary.RunID)
	if err != nil {
		return fmt.Errorf("load groups: %w", err)
	}
	defer rows.Close()

	lastID := int64(-1)
	for rows.Next() {
		var (
			stage         types.Stage
			id            int64
			key, survivor string
			docID         string
			removed       bool
			score         sql.NullFloat64
		)
		if err := rows.Scan(&stage, &id, &key, &survivor, &docID, &removed, &score); err != nil {
			return fmt.Errorf("scan group member: %w", err)
		}
		if id != lastID {
			rec.Groups[stage] = append(rec.Groups[stage], types.DuplicateGroup{Stage: stage, Key: key, Survivor: survivor})
			lastID = id
		}
		groups := rec.Groups[stage]
		g := &groups[len(groups)-1]
		g.Members = append(g.Members, docID)
		if removed {
			g.Removed = append(g.Removed, docID)
		}
		if score.Valid {
			if g.Scores == nil {
				g.Scores = make(map[string]float64)
			}
			g.Scores[docID] = score.Float64
		}
	}
	return rows.Err()
}
