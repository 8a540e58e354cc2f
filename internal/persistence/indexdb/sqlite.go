package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"beltline.ai/internal/persistence/snapshot"
	"beltline.ai/internal/sim/world"
)

// SQLiteIndex is a queryable read model of the tick log. Writes are queued
// and applied by one goroutine; the JSONL logs remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick      atomic.Uint64
	dropSnapshot  atomic.Uint64
	dropLaneState atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqSnapshot
	reqLaneState
)

type req struct {
	kind reqKind

	tick     world.TickLogEntry
	snapshot snapshotRow
	lanes    laneStateRows
}

type snapshotRow struct {
	Tick  uint64
	Path  string
	RunID string
	Lanes int
	Items int
}

type laneStateRows struct {
	Tick  uint64
	Lanes []snapshot.LaneV1
}

// Stats reports queue pressure for /metrics.
type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropTickTotal     uint64 `json:"drop_tick_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
	DropLaneTotal     uint64 `json:"drop_lane_state_total"`
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
		`CREATE TABLE IF NOT EXISTS configs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			inserts INTEGER NOT NULL,
			takes INTEGER NOT NULL,
			transfers INTEGER NOT NULL,
			refused INTEGER NOT NULL,
			consumed INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS transfers (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			from_lane TEXT NOT NULL,
			to_lane TEXT NOT NULL,
			item_id TEXT NOT NULL,
			pos INTEGER NOT NULL,
			refused INTEGER NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_from_tick ON transfers(from_lane, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_item ON transfers(item_id);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			run_id TEXT NOT NULL,
			lanes INTEGER NOT NULL,
			items INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS lane_state (
			lane_id TEXT PRIMARY KEY,
			tick INTEGER NOT NULL,
			length INTEGER NOT NULL,
			speed INTEGER NOT NULL,
			out_lane TEXT,
			exit TEXT NOT NULL,
			items INTEGER NOT NULL,
			items_json TEXT NOT NULL
		);`,
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
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropTickTotal:     s.dropTick.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		DropLaneTotal:     s.dropLaneState.Load(),
	}
}

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// Drop if the indexer falls behind.
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Tick:  snap.Header.Tick,
		Path:  path,
		RunID: snap.Header.RunID,
		Lanes: len(snap.Lanes),
		Items: snap.ItemCount(),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// RecordSnapshotState replaces the lane_state table with the snapshot's lanes.
func (s *SQLiteIndex) RecordSnapshotState(snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	rows := laneStateRows{Tick: snap.Header.Tick, Lanes: append([]snapshot.LaneV1(nil), snap.Lanes...)}
	select {
	case s.ch <- req{kind: reqLaneState, lanes: rows}:
	default:
		s.dropLaneState.Add(1)
	}
}

// UpsertConfig stores the canonical JSON of a config value the server applied.
// Call it before queueing writes; the writer goroutine holds the only connection
// while a batch is open.
func (s *SQLiteIndex) UpsertConfig(name string, v any) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO configs(name,digest,json,updated_at) VALUES(?,?,?,?)`,
		name, hex.EncodeToString(sum[:]), string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,digest,inserts,takes,transfers,refused,consumed,raw_json) VALUES(?,?,?,?,?,?,?,?)`)
	insertTransfer, _ := s.db.Prepare(`INSERT OR REPLACE INTO transfers(tick,seq,from_lane,to_lane,item_id,pos,refused) VALUES(?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,run_id,lanes,items) VALUES(?,?,?,?,?)`)
	insertLane, _ := s.db.Prepare(`INSERT OR REPLACE INTO lane_state(lane_id,tick,length,speed,out_lane,exit,items,items_json) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertTransfer, insertSnapshot, insertLane} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			e := r.tick
			b, _ := json.Marshal(e)
			if insertTick != nil {
				if _, err := tx.Stmt(insertTick).Exec(
					int64(e.Tick),
					e.Digest,
					len(e.Inserts),
					len(e.Takes),
					len(e.Transfers),
					len(e.Refused),
					len(e.Consumed),
					string(b),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
			seq := 0
			write := func(trs []world.RecordedTransfer, refused bool) bool {
				for _, tr := range trs {
					if insertTransfer == nil {
						return true
					}
					if _, err := tx.Stmt(insertTransfer).Exec(int64(e.Tick), seq, string(tr.From), string(tr.To), tr.ItemID, tr.Pos, refused); err != nil {
						rollback()
						return false
					}
					seq++
					opCount++
				}
				return true
			}
			if !write(e.Transfers, false) {
				continue
			}
			if !write(e.Refused, true) {
				continue
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(int64(sn.Tick), sn.Path, sn.RunID, sn.Lanes, sn.Items); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqLaneState:
			if _, err := tx.Exec(`DELETE FROM lane_state`); err != nil {
				rollback()
				continue
			}
			for _, l := range r.lanes.Lanes {
				if insertLane == nil {
					break
				}
				items, _ := json.Marshal(l.Items)
				if _, err := tx.Stmt(insertLane).Exec(l.ID, int64(r.lanes.Tick), l.Length, l.Speed, l.Out, l.Exit, len(l.Items), string(items)); err != nil {
					rollback()
					break
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}
