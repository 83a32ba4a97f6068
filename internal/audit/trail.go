// Package audit persists a non-authoritative history of master transitions
// for operator visibility, grounded on the teacher daemon's
// internal/audit.BufferedLogger and internal/ha's persistNode/schema
// pattern. It is never read back to reconstruct membership at startup —
// spec.md's "no persistent state across restarts" non-goal governs the
// cluster's authoritative state, not this advisory trail.
package audit

import (
	"database/sql"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"clusterd/internal/transport"
)

// Trail appends master-transition records to a SQLite database. A nil
// *Trail is valid and silently drops writes, so a daemon can run with
// auditing disabled (e.g. if the database path is unwritable).
type Trail struct {
	db      *sql.DB
	entries chan entry
	done    chan struct{}
}

type entry struct {
	ts        int64
	oldMaster string
	newMaster string
}

// Open opens (creating if needed) a SQLite database at path in WAL mode,
// matching the teacher's pragma choices, ensures the schema, and starts a
// single background writer goroutine that drains a bounded channel — audit
// writes never block the caller (membership.State's transition callback).
func Open(path string) (*Trail, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS master_transitions (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			ts            INTEGER NOT NULL,
			old_master_id TEXT NOT NULL DEFAULT '',
			new_master_id TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, err
	}

	t := &Trail{
		db:      db,
		entries: make(chan entry, 64),
		done:    make(chan struct{}),
	}
	go t.run()
	return t, nil
}

// Close stops the writer goroutine after draining pending entries.
func (t *Trail) Close() error {
	if t == nil {
		return nil
	}
	close(t.entries)
	<-t.done
	return t.db.Close()
}

// Record appends one transition. Non-blocking: if the writer is backed up,
// the record is logged and dropped rather than stalling the caller, which
// runs under membership.State's lock.
func (t *Trail) Record(oldMasterID, newMasterID string) {
	if t == nil {
		return
	}
	select {
	case t.entries <- entry{ts: time.Now().Unix(), oldMaster: oldMasterID, newMaster: newMasterID}:
	default:
		log.Printf("audit: transition log backed up, dropping record (old=%s new=%s)", oldMasterID, newMasterID)
	}
}

func (t *Trail) run() {
	defer close(t.done)
	for e := range t.entries {
		if _, err := t.db.Exec(
			`INSERT INTO master_transitions (ts, old_master_id, new_master_id) VALUES (?, ?, ?)`,
			e.ts, e.oldMaster, e.newMaster,
		); err != nil {
			log.Printf("audit: failed to persist transition: %v", err)
		}
	}
}

// Recent returns up to limit most recent transitions, newest first.
func (t *Trail) Recent(limit int) []transport.TransitionRecord {
	if t == nil {
		return nil
	}
	rows, err := t.db.Query(
		`SELECT ts, old_master_id, new_master_id FROM master_transitions ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		log.Printf("audit: failed to read transitions: %v", err)
		return nil
	}
	defer rows.Close()

	var out []transport.TransitionRecord
	for rows.Next() {
		var r transport.TransitionRecord
		if err := rows.Scan(&r.Timestamp, &r.OldMasterID, &r.NewMasterID); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out
}
