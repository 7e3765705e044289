package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelwatch.ai/internal/track/discovery"
	"voxelwatch.ai/internal/track/report"
	"voxelwatch.ai/internal/track/tuning"
)

// ErrDropped is returned when the writer queue is full. The in-memory view
// still holds the value; only durability is lost.
var ErrDropped = errors.New("index queue full")

// SQLiteIndex is the durable discovery Store and a queryable report index.
// Writes go through one goroutine in batched transactions; reads hit the
// database directly.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropDiscoveryTotal atomic.Uint64
	dropReportTotal    atomic.Uint64
	writeErrTotal      atomic.Uint64
	lostTotal          atomic.Uint64
	reportsWritten     atomic.Uint64
}

type Stats struct {
	QueueDepth         int
	QueueCapacity      int
	DropDiscoveryTotal uint64
	DropReportTotal    uint64
	WriteErrTotal      uint64
	LostTotal          uint64
	ReportsWritten     uint64
}

type reqKind int

const (
	reqDiscovery reqKind = iota + 1
	reqReport
)

type req struct {
	kind reqKind

	actorID   string
	discovery discovery.Entry
	at        time.Time
	envelope  report.Envelope
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS discoveries (
			actor_id TEXT NOT NULL,
			category TEXT NOT NULL,
			item TEXT NOT NULL,
			discovered_at TEXT NOT NULL,
			PRIMARY KEY (actor_id, category, item)
		);`,
		`CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			actor_id TEXT NOT NULL,
			at INTEGER NOT NULL,
			type TEXT NOT NULL,
			kind TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_reports_actor_at ON reports(actor_id, at);`,
		`CREATE INDEX IF NOT EXISTS idx_reports_type_at ON reports(type, at);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:         len(s.ch),
		QueueCapacity:      cap(s.ch),
		DropDiscoveryTotal: s.dropDiscoveryTotal.Load(),
		DropReportTotal:    s.dropReportTotal.Load(),
		WriteErrTotal:      s.writeErrTotal.Load(),
		LostTotal:          s.lostTotal.Load(),
		ReportsWritten:     s.reportsWritten.Load(),
	}
}

// LoadDiscoveries implements discovery.Store.
func (s *SQLiteIndex) LoadDiscoveries(ctx context.Context, actorID string) ([]discovery.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, item FROM discoveries WHERE actor_id=? ORDER BY category, item`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []discovery.Entry
	for rows.Next() {
		var e discovery.Entry
		if err := rows.Scan(&e.Category, &e.Item); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PutDiscovery implements discovery.Store. The write is queued.
func (s *SQLiteIndex) PutDiscovery(actorID string, e discovery.Entry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqDiscovery, actorID: actorID, discovery: e, at: time.Now().UTC()}:
		return nil
	default:
		s.dropDiscoveryTotal.Add(1)
		return ErrDropped
	}
}

// Emit implements report.Sink. Drops when the writer falls behind; the JSONL
// report log remains the source of truth.
func (s *SQLiteIndex) Emit(e report.Envelope) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqReport, envelope: e}:
	default:
		s.dropReportTotal.Add(1)
	}
}

// RecordTuning stores the effective tuning so reports can be traced to the
// settings that produced them.
func (s *SQLiteIndex) RecordTuning(t tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, kv := range [][2]string{
		{"schema_version", "1"},
		{"tuning", string(b)},
		{"tuning_digest", t.Digest()},
	} {
		if _, err := stmt.Exec(kv[0], kv[1]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecentReports returns up to limit envelopes for an actor, newest first.
// An empty typ matches every type.
func (s *SQLiteIndex) RecentReports(ctx context.Context, actorID string, typ report.Type, limit int) ([]report.Envelope, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := `SELECT raw_json FROM reports WHERE actor_id=? ORDER BY at DESC, rowid DESC LIMIT ?`
	args := []any{actorID, limit}
	if typ != "" {
		q = `SELECT raw_json FROM reports WHERE actor_id=? AND type=? ORDER BY at DESC, rowid DESC LIMIT ?`
		args = []any{actorID, string(typ), limit}
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []report.Envelope
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e report.Envelope
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertDiscovery, err := s.db.Prepare(`INSERT OR IGNORE INTO discoveries(actor_id,category,item,discovered_at) VALUES(?,?,?,?)`)
	if err != nil {
		s.writeErrTotal.Add(1)
	}
	insertReport, err := s.db.Prepare(`INSERT OR REPLACE INTO reports(id,actor_id,at,type,kind,raw_json) VALUES(?,?,?,?,?,?)`)
	if err != nil {
		s.writeErrTotal.Add(1)
	}
	defer func() {
		if insertDiscovery != nil {
			_ = insertDiscovery.Close()
		}
		if insertReport != nil {
			_ = insertReport.Close()
		}
	}()

	exec := func(tx *sql.Tx, r req) error {
		switch r.kind {
		case reqDiscovery:
			if insertDiscovery == nil {
				return errors.New("discovery statement unavailable")
			}
			_, err := tx.Stmt(insertDiscovery).Exec(
				r.actorID,
				r.discovery.Category,
				r.discovery.Item,
				r.at.Format(time.RFC3339Nano),
			)
			return err
		case reqReport:
			if insertReport == nil {
				return errors.New("report statement unavailable")
			}
			e := r.envelope
			raw, err := json.Marshal(e)
			if err != nil {
				return err
			}
			kind := ""
			if e.Session != nil {
				kind = string(e.Session.Kind)
			}
			_, err = tx.Stmt(insertReport).Exec(e.ID, e.ActorID, e.At, string(e.Type), kind, string(raw))
			return err
		}
		return nil
	}

	var (
		tx          *sql.Tx
		batch       []req
		commitEvery = 2000
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErrTotal.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
	}
	lose := func(reqs []req) {
		s.lostTotal.Add(uint64(len(reqs)))
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrTotal.Add(1)
			lose(batch)
		} else {
			for _, r := range batch {
				if r.kind == reqReport {
					s.reportsWritten.Add(1)
				}
			}
		}
		tx = nil
		batch = batch[:0]
	}
	// recoverBatch rolls back after a failed op and replays the ops that
	// already succeeded in a fresh transaction. Only the failed op is lost
	// unless the replay fails too.
	recoverBatch := func() {
		_ = tx.Rollback()
		tx = nil
		if len(batch) == 0 {
			return
		}
		begin()
		if tx == nil {
			lose(batch)
			batch = batch[:0]
			return
		}
		for _, r := range batch {
			if err := exec(tx, r); err != nil {
				_ = tx.Rollback()
				tx = nil
				s.writeErrTotal.Add(1)
				lose(batch)
				batch = batch[:0]
				return
			}
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			lose([]req{r})
			continue
		}
		if err := exec(tx, r); err != nil {
			s.writeErrTotal.Add(1)
			s.lostTotal.Add(1)
			recoverBatch()
		} else {
			batch = append(batch, r)
		}
		// Commit once the queue drains so readers never wait behind an idle tx.
		if len(batch) >= commitEvery || len(s.ch) == 0 {
			commit()
		}
	}

	commit()
}
