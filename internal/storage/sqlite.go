//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"faultnet/internal/model"

	_ "modernc.org/sqlite"
)

const defaultStoreKind = "sqlite"

const (
	tableLossHistory = "loss_history"
	tableRemaps      = "remap_history"
	tableFaults      = "fault_summaries"
	tableDiagnostics = "iteration_diagnostics"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func newSQLiteStore(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	return NewSQLiteStore(path), nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		DROP TABLE IF EXISTS runs;
		DROP TABLE IF EXISTS loss_history;
		DROP TABLE IF EXISTS remap_history;
		DROP TABLE IF EXISTS fault_summaries;
		DROP TABLE IF EXISTS iteration_diagnostics;
	`)
	if err != nil {
		return err
	}
	return createTables(ctx, db)
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run model.RunRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if run.ID == "" {
		return errors.New("run id is required")
	}

	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			created_at = excluded.created_at,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, run.ID, run.CreatedAt, run.SchemaVersion, run.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (model.RunRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.RunRecord{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RunRecord{}, false, nil
		}
		return model.RunRecord{}, false, err
	}

	run, err := DecodeRun(payload)
	if err != nil {
		return model.RunRecord{}, false, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, true, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context) ([]model.RunRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, payload FROM runs ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.RunRecord
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		run, err := DecodeRun(payload)
		if err != nil {
			return nil, fmt.Errorf("decode run %s: %w", id, err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) SaveLossHistory(ctx context.Context, runID string, history []float64) error {
	payload, err := EncodeLossHistory(history)
	if err != nil {
		return err
	}
	return s.savePayload(ctx, tableLossHistory, runID, payload)
}

func (s *SQLiteStore) GetLossHistory(ctx context.Context, runID string) ([]float64, bool, error) {
	payload, ok, err := s.loadPayload(ctx, tableLossHistory, runID)
	if err != nil || !ok {
		return nil, false, err
	}
	history, err := DecodeLossHistory(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode loss history %s: %w", runID, err)
	}
	return history, true, nil
}

func (s *SQLiteStore) SaveRemapHistory(ctx context.Context, history model.RemapHistory) error {
	payload, err := EncodeRemapHistory(history)
	if err != nil {
		return err
	}
	return s.savePayload(ctx, tableRemaps, history.RunID, payload)
}

func (s *SQLiteStore) GetRemapHistory(ctx context.Context, runID string) (model.RemapHistory, bool, error) {
	payload, ok, err := s.loadPayload(ctx, tableRemaps, runID)
	if err != nil || !ok {
		return model.RemapHistory{}, false, err
	}
	history, err := DecodeRemapHistory(payload)
	if err != nil {
		return model.RemapHistory{}, false, fmt.Errorf("decode remap history %s: %w", runID, err)
	}
	return history, true, nil
}

func (s *SQLiteStore) SaveFaultSummary(ctx context.Context, summary model.FaultSummary) error {
	payload, err := EncodeFaultSummary(summary)
	if err != nil {
		return err
	}
	return s.savePayload(ctx, tableFaults, summary.RunID, payload)
}

func (s *SQLiteStore) GetFaultSummary(ctx context.Context, runID string) (model.FaultSummary, bool, error) {
	payload, ok, err := s.loadPayload(ctx, tableFaults, runID)
	if err != nil || !ok {
		return model.FaultSummary{}, false, err
	}
	summary, err := DecodeFaultSummary(payload)
	if err != nil {
		return model.FaultSummary{}, false, fmt.Errorf("decode fault summary %s: %w", runID, err)
	}
	return summary, true, nil
}

func (s *SQLiteStore) SaveIterationDiagnostics(ctx context.Context, runID string, diagnostics []model.IterationDiagnostics) error {
	payload, err := EncodeIterationDiagnostics(diagnostics)
	if err != nil {
		return err
	}
	return s.savePayload(ctx, tableDiagnostics, runID, payload)
}

func (s *SQLiteStore) GetIterationDiagnostics(ctx context.Context, runID string) ([]model.IterationDiagnostics, bool, error) {
	payload, ok, err := s.loadPayload(ctx, tableDiagnostics, runID)
	if err != nil || !ok {
		return nil, false, err
	}
	diagnostics, err := DecodeIterationDiagnostics(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode iteration diagnostics %s: %w", runID, err)
	}
	return diagnostics, true, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// savePayload upserts a per-run payload into one of the run_id keyed tables.
func (s *SQLiteStore) savePayload(ctx context.Context, table, runID string, payload []byte) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (run_id, payload)
		VALUES (?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			payload = excluded.payload
	`, table), runID, payload)
	return err
}

func (s *SQLiteStore) loadPayload(ctx context.Context, table, runID string) ([]byte, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}
	var payload []byte
	err = db.QueryRowContext(ctx, fmt.Sprintf(`SELECT payload FROM %s WHERE run_id = ?`, table), runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS loss_history (
			run_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS remap_history (
			run_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS fault_summaries (
			run_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS iteration_diagnostics (
			run_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
	`)
	return err
}
