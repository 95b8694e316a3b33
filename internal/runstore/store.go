// Package runstore tracks audit runs: the registry of run records and the
// coordinator that admits, executes, and publishes them.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/jackc/pgx/v5/stdlib"

	"courtroom/internal/state"
)

// Status is a run's lifecycle stage.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Terminal reports whether the status will never change again.
func (s Status) Terminal() bool { return s == StatusComplete || s == StatusFailed }

// Record is one run's registry entry.
type Record struct {
	ID          string        `json:"id"`
	Status      Status        `json:"status"`
	Subject     state.Subject `json:"subject"`
	SubmittedAt time.Time     `json:"submitted_at"`
	FinishedAt  time.Time     `json:"finished_at,omitempty"`
	Report      *state.Report `json:"report,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// ErrNotFound reports an unknown run id.
var ErrNotFound = errors.New("runstore: run not found")

// Store persists run records.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	List(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// MemoryStore keeps records in process. The zero value is not usable; use
// NewMemoryStore.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]Record)}
}

func (m *MemoryStore) Put(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.ID] = rec
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) List(ctx context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.recs))
	for _, rec := range m.recs {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

const runsSchema = `
CREATE TABLE IF NOT EXISTS audit_runs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	subject      JSONB NOT NULL,
	report       JSONB,
	error        TEXT NOT NULL DEFAULT '',
	submitted_at TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ
)`

// PostgresStore persists records in Postgres through the pgx stdlib driver.
// Terminal records are cached in process since they never change.
type PostgresStore struct {
	db    *sql.DB
	cache *lru.Cache[string, Record]
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, runsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	cache, _ := lru.New[string, Record](256)
	return &PostgresStore{db: db, cache: cache}, nil
}

func (p *PostgresStore) Put(ctx context.Context, rec Record) error {
	subject, err := json.Marshal(rec.Subject)
	if err != nil {
		return err
	}
	var report any
	if rec.Report != nil {
		raw, err := json.Marshal(rec.Report)
		if err != nil {
			return err
		}
		report = raw
	}
	var finished any
	if !rec.FinishedAt.IsZero() {
		finished = rec.FinishedAt
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO audit_runs (id, status, subject, report, error, submitted_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, report = EXCLUDED.report,
		    error = EXCLUDED.error, finished_at = EXCLUDED.finished_at`,
		rec.ID, rec.Status, subject, report, rec.Error, rec.SubmittedAt, finished)
	if err != nil {
		return fmt.Errorf("put run %s: %w", rec.ID, err)
	}
	if rec.Status.Terminal() {
		p.cache.Add(rec.ID, rec)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	if rec, ok := p.cache.Get(id); ok {
		return rec, nil
	}
	row := p.db.QueryRowContext(ctx, `
		SELECT id, status, subject, report, error, submitted_at, finished_at
		FROM audit_runs WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		return Record{}, err
	}
	if rec.Status.Terminal() {
		p.cache.Add(rec.ID, rec)
	}
	return rec, nil
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, status, subject, report, error, submitted_at, finished_at
		FROM audit_runs ORDER BY submitted_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Close() error { return p.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var subject, report []byte
	var finished sql.NullTime
	err := row.Scan(&rec.ID, &rec.Status, &subject, &report, &rec.Error, &rec.SubmittedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal(subject, &rec.Subject); err != nil {
		return Record{}, err
	}
	if len(report) > 0 {
		rec.Report = &state.Report{}
		if err := json.Unmarshal(report, rec.Report); err != nil {
			return Record{}, err
		}
	}
	if finished.Valid {
		rec.FinishedAt = finished.Time
	}
	return rec, nil
}

// NewFromEnv returns a Postgres store when COURTROOM_DB_URL (or DATABASE_URL)
// is set and reachable, otherwise the in-memory store.
func NewFromEnv(ctx context.Context) Store {
	dsn := strings.TrimSpace(os.Getenv("COURTROOM_DB_URL"))
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		return NewMemoryStore()
	}
	st, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		log.Printf("runstore: postgres unavailable (%v), using memory store", err)
		return NewMemoryStore()
	}
	return st
}
