package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/danielpatrickdp/simuniverse-cert/internal/governance"
	"github.com/danielpatrickdp/simuniverse-cert/internal/logging"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	environment   TEXT NOT NULL,
	git_sha       TEXT NOT NULL,
	config_path   TEXT,
	corpus_path   TEXT,
	status        TEXT NOT NULL,
	error_message TEXT,
	payload_json  TEXT NOT NULL DEFAULT '{}',
	version       INTEGER NOT NULL,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_env_created ON runs(environment, created_at);
`

// Fixed-width so that created_at sorts correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const selectColumns = `run_id, environment, git_sha, config_path, corpus_path, status,
	error_message, payload_json, version, created_at, updated_at`

// #endregion schema

// #region store-struct
// Store is the run registry. Every write to a run happens under that run's
// own lock and inside one SQLite transaction, and bumps the record version.
// Writes to different runs never wait on each other's locks. Reads go
// through their own pool, so an open write never blocks Get or List.
type Store struct {
	db    *sql.DB // single writer connection
	read  *sql.DB // reader pool; the writer itself for in-memory databases
	locks *keyedLocks
	now   func() time.Time
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	s := NewStoreWithDB(db)
	if isMemory(dbPath) {
		return s, nil
	}

	// WAL lets these readers see the last commit while a write is open.
	read, err := sql.Open("sqlite", dsn+"&_pragma=query_only(1)")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open read pool: %w", err)
	}
	read.SetMaxOpenConns(readPoolSize)
	s.read = read
	return s, nil
}

// NewStoreWithDB wraps an already migrated database. Reads and writes share
// the given handle.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db, read: db, locks: newKeyedLocks(), now: time.Now}
}

const readPoolSize = 4

func isMemory(dbPath string) bool {
	return dbPath == ":memory:" || strings.HasPrefix(dbPath, "file::memory:") || strings.Contains(dbPath, "mode=memory")
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if _, err := db.Exec(logging.EventsSchema); err != nil {
		return fmt.Errorf("migrate events: %w", err)
	}
	return nil
}

// #endregion constructor

// #region close
// Close closes the writer connection and the read pool.
func (s *Store) Close() error {
	var rerr error
	if s.read != s.db {
		rerr = s.read.Close()
	}
	return errors.Join(s.db.Close(), rerr)
}

// DB returns the writer *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion close

// #region create
// Create registers a run if absent. When the run already exists and is still
// pending the existing record is returned with created=false, so a retried
// request is idempotent. Any other existing status is a DuplicateRunError.
func (s *Store) Create(ctx context.Context, req CreateRequest) (rec RunRecord, created bool, err error) {
	if strings.TrimSpace(req.RunID) == "" {
		return RunRecord{}, false, fmt.Errorf("create run: run_id is required")
	}
	unlock := s.locks.lock(req.RunID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RunRecord{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	existing, err := getRun(ctx, tx, req.RunID)
	switch {
	case err == nil:
		if existing.Status == StatusPending {
			return existing, false, nil
		}
		return RunRecord{}, false, &DuplicateRunError{RunID: req.RunID, Status: existing.Status}
	case !errors.Is(err, ErrRunNotFound):
		return RunRecord{}, false, err
	}

	now := s.now().UTC()
	rec = RunRecord{
		RunID:       req.RunID,
		Environment: req.Environment,
		GitSHA:      req.GitSHA,
		ConfigPath:  req.ConfigPath,
		CorpusPath:  req.CorpusPath,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, environment, git_sha, config_path, corpus_path, status,
		                   error_message, payload_json, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, NULL, '{}', ?, ?, ?)`,
		rec.RunID, rec.Environment, rec.GitSHA, nullIfEmpty(rec.ConfigPath), nullIfEmpty(rec.CorpusPath),
		string(rec.Status), rec.Version, now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return RunRecord{}, false, fmt.Errorf("insert run: %w", err)
	}
	err = logging.LogEvent(tx, logging.RunEvent{
		RunID: rec.RunID, Kind: "created", ToStatus: string(StatusPending), CreatedAt: now,
	})
	if err != nil {
		return RunRecord{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return RunRecord{}, false, fmt.Errorf("commit: %w", err)
	}
	return rec, true, nil
}

// #endregion create

// #region read
// Get returns a run or ErrRunNotFound.
func (s *Store) Get(ctx context.Context, runID string) (RunRecord, error) {
	return getRun(ctx, s.read, runID)
}

// List returns runs newest first, optionally restricted to one environment.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]RunRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `SELECT ` + selectColumns + ` FROM runs`
	args := []any{}
	if opts.Environment != "" {
		query += ` WHERE environment = ?`
		args = append(args, opts.Environment)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	records := []RunRecord{}
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Events returns the lifecycle log of a run, oldest first.
func (s *Store) Events(runID string) ([]logging.RunEvent, error) {
	return logging.ListEvents(s.read, runID)
}

// #endregion read

// #region transitions
// Start moves a pending run to running.
func (s *Store) Start(ctx context.Context, runID string) (RunRecord, error) {
	return s.update(ctx, runID, -1, "transition", "", func(rec *RunRecord) error {
		if rec.Status != StatusPending {
			return &InvalidTransitionError{RunID: runID, From: rec.Status, To: StatusRunning}
		}
		rec.Status = StatusRunning
		return nil
	})
}

// Complete attaches the pipeline results and moves a running run to
// succeeded in a single write.
func (s *Store) Complete(ctx context.Context, runID string, c Completion) (RunRecord, error) {
	return s.update(ctx, runID, -1, "transition", "", func(rec *RunRecord) error {
		if rec.Status != StatusRunning {
			return &InvalidTransitionError{RunID: runID, From: rec.Status, To: StatusSucceeded}
		}
		rec.Status = StatusSucceeded
		rec.TrustSummaries = c.TrustSummaries
		rec.OmegaReport = c.OmegaReport
		rec.SimUniverseConsistency = c.Consistency
		rec.GateReport = c.GateReport
		rec.CandidateScores = c.CandidateScores
		rec.Warnings = c.Warnings
		return nil
	})
}

// Fail moves a pending or running run to failed with a reason. Results
// already attached are left as they were; nothing partial is added.
func (s *Store) Fail(ctx context.Context, runID string, reason string) (RunRecord, error) {
	return s.update(ctx, runID, -1, "transition", reason, func(rec *RunRecord) error {
		if rec.Status.Terminal() {
			return &InvalidTransitionError{RunID: runID, From: rec.Status, To: StatusFailed}
		}
		rec.Status = StatusFailed
		rec.ErrorMessage = reason
		return nil
	})
}

// SyncTrust merges registry trust entries onto a terminal run. Status is
// never changed.
func (s *Store) SyncTrust(ctx context.Context, runID string, entries []governance.RegistryEntry) (RunRecord, error) {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.CandidateID)
	}
	sort.Strings(ids)
	detail := strings.Join(ids, ",")

	return s.update(ctx, runID, -1, "trust_sync", detail, func(rec *RunRecord) error {
		if !rec.Status.Terminal() {
			return &InvalidTransitionError{RunID: runID, From: rec.Status, To: rec.Status}
		}
		merged := make(map[string]governance.RegistryEntry, len(rec.RegistryTrust)+len(entries))
		for k, v := range rec.RegistryTrust {
			merged[k] = v
		}
		for _, e := range entries {
			merged[e.CandidateID] = e
		}
		rec.RegistryTrust = merged
		return nil
	})
}

// Update applies fn to the run if its version still equals expectedVersion,
// otherwise it returns RegistryConflictError. fn may not change the run id,
// creation time or status. Terminal runs are frozen: only SyncTrust may
// still write to them.
func (s *Store) Update(ctx context.Context, runID string, expectedVersion int, fn func(*RunRecord) error) (RunRecord, error) {
	return s.update(ctx, runID, expectedVersion, "update", "", func(rec *RunRecord) error {
		status := rec.Status
		if status.Terminal() {
			return &InvalidTransitionError{RunID: runID, From: status, To: status}
		}
		if err := fn(rec); err != nil {
			return err
		}
		if rec.Status != status {
			return &InvalidTransitionError{RunID: runID, From: status, To: rec.Status}
		}
		return nil
	})
}

// #endregion transitions

// #region update
// update is the single write path after Create. A negative expectedVersion
// accepts whatever version is current.
func (s *Store) update(ctx context.Context, runID string, expectedVersion int, kind, detail string, fn func(*RunRecord) error) (RunRecord, error) {
	unlock := s.locks.lock(runID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RunRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rec, err := getRun(ctx, tx, runID)
	if err != nil {
		return RunRecord{}, err
	}
	if expectedVersion >= 0 && rec.Version != expectedVersion {
		return RunRecord{}, &RegistryConflictError{RunID: runID, Expected: expectedVersion, Actual: rec.Version}
	}

	prevStatus := rec.Status
	prevVersion := rec.Version
	createdAt := rec.CreatedAt
	if err := fn(&rec); err != nil {
		return RunRecord{}, err
	}
	rec.RunID = runID
	rec.CreatedAt = createdAt
	rec.Version = prevVersion + 1
	rec.UpdatedAt = s.now().UTC()

	body, err := json.Marshal(payloadOf(rec))
	if err != nil {
		return RunRecord{}, fmt.Errorf("marshal run payload: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET environment = ?, git_sha = ?, config_path = ?, corpus_path = ?, status = ?,
		                 error_message = ?, payload_json = ?, version = ?, updated_at = ?
		 WHERE run_id = ? AND version = ?`,
		rec.Environment, rec.GitSHA, nullIfEmpty(rec.ConfigPath), nullIfEmpty(rec.CorpusPath), string(rec.Status),
		nullIfEmpty(rec.ErrorMessage), string(body), rec.Version, rec.UpdatedAt.Format(timeLayout),
		runID, prevVersion,
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Another process holding the same database wrote first.
		current, err := getRun(ctx, tx, runID)
		if err != nil {
			return RunRecord{}, err
		}
		return RunRecord{}, &RegistryConflictError{RunID: runID, Expected: prevVersion, Actual: current.Version}
	}

	if kind != "transition" || prevStatus != rec.Status {
		err = logging.LogEvent(tx, logging.RunEvent{
			RunID:      runID,
			Kind:       kind,
			FromStatus: string(prevStatus),
			ToStatus:   string(rec.Status),
			Detail:     detail,
			CreatedAt:  rec.UpdatedAt,
		})
		if err != nil {
			return RunRecord{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return RunRecord{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// #endregion update

// #region row-mapping
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func getRun(ctx context.Context, q queryRower, runID string) (RunRecord, error) {
	row := q.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM runs WHERE run_id = ?`, runID)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("get run %s: %w", runID, ErrRunNotFound)
	}
	return rec, err
}

func scanRun(row scanner) (RunRecord, error) {
	var rec RunRecord
	var configPath, corpusPath, errMsg sql.NullString
	var status, body, createdStr, updatedStr string

	err := row.Scan(&rec.RunID, &rec.Environment, &rec.GitSHA, &configPath, &corpusPath, &status,
		&errMsg, &body, &rec.Version, &createdStr, &updatedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, err
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("scan run: %w", err)
	}
	rec.ConfigPath = configPath.String
	rec.CorpusPath = corpusPath.String
	rec.ErrorMessage = errMsg.String
	rec.Status = Status(status)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)

	var p payload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return RunRecord{}, fmt.Errorf("unmarshal run payload %s: %w", rec.RunID, err)
	}
	rec.Warnings = p.Warnings
	rec.TrustSummaries = p.TrustSummaries
	rec.OmegaReport = p.OmegaReport
	rec.SimUniverseConsistency = p.SimUniverseConsistency
	rec.GateReport = p.GateReport
	rec.CandidateScores = p.CandidateScores
	rec.RegistryTrust = p.RegistryTrust
	return rec, nil
}

func payloadOf(rec RunRecord) payload {
	return payload{
		Warnings:               rec.Warnings,
		TrustSummaries:         rec.TrustSummaries,
		OmegaReport:            rec.OmegaReport,
		SimUniverseConsistency: rec.SimUniverseConsistency,
		GateReport:             rec.GateReport,
		CandidateScores:        rec.CandidateScores,
		RegistryTrust:          rec.RegistryTrust,
	}
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion row-mapping
