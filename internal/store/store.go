// Package store persists correlated rename events and pairing diagnostics
// in a sqlite evidence database, so the anomaly analyzer can look up a
// file's prior names long after the journal itself has wrapped.
package store

import (
	"fmt"
	"strconv"
	"time"

	"crawshaw.io/sqlite"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/forensichub/usnwatch/internal/usn"
)

const schemaVersion = 1

// Diagnostic kinds recorded alongside events.
const (
	KindUnmatchedNewName = "unmatched_new_name"
	KindUnmatchedOldName = "unmatched_old_name"
)

// Store wraps one sqlite connection. Like the session it serves, a store is
// single-threaded.
type Store struct {
	conn *sqlite.Conn
}

// New opens (or creates) the evidence database at path.
func New(path string) (*Store, error) {
	conn, err := sqlite.OpenConn(path, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open evidence store %s", path)
	}

	store := &Store{conn: conn}
	if err := store.setup(); err != nil {
		conn.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) setup() error {
	stmts := []string{
		fmt.Sprintf("PRAGMA user_version = %d", schemaVersion),
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			volume TEXT NOT NULL,
			journal_id TEXT NOT NULL,
			started_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rename_events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			frn TEXT NOT NULL,
			old_name TEXT NOT NULL,
			new_name TEXT NOT NULL,
			old_parent_frn TEXT NOT NULL,
			new_parent_frn TEXT NOT NULL,
			usn INTEGER NOT NULL,
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS rename_events_frn ON rename_events(frn)`,
		`CREATE TABLE IF NOT EXISTS diagnostics (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			frn TEXT NOT NULL,
			parent_frn TEXT NOT NULL,
			file_name TEXT NOT NULL,
			usn INTEGER NOT NULL,
			timestamp TEXT NOT NULL
		)`,
	}
	for _, query := range stmts {
		if err := s.exec(query); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) exec(query string) error {
	stmt, err := s.conn.Prepare(query)
	if err != nil {
		return errors.Wrap(err, "prepare")
	}
	if _, err := stmt.Step(); err != nil {
		return errors.Wrap(err, "step")
	}
	return stmt.Finalize()
}

// BeginSession records a tracking session and returns its id.
func (s *Store) BeginSession(volume string, journalID uint64) (string, error) {
	id := uuid.New().String()

	stmt, err := s.conn.Prepare(
		"INSERT INTO sessions (id, volume, journal_id, started_at) VALUES ($id, $volume, $journal_id, $started_at)")
	if err != nil {
		return "", errors.Wrap(err, "prepare session insert")
	}
	stmt.SetText("$id", id)
	stmt.SetText("$volume", volume)
	stmt.SetText("$journal_id", encodeID(journalID))
	stmt.SetText("$started_at", time.Now().UTC().Format(time.RFC3339Nano))
	if _, err := stmt.Step(); err != nil {
		return "", errors.Wrap(err, "insert session")
	}
	return id, stmt.Finalize()
}

// SessionInfo identifies one recorded tracking session.
type SessionInfo struct {
	ID        string
	Volume    string
	JournalID uint64
	StartedAt time.Time
}

// ErrNoSessions is returned when an export is requested from a store that
// has never recorded a session.
var ErrNoSessions = errors.New("no sessions recorded")

// Session returns the recorded session with the given id, or the most
// recently started one when id is empty.
func (s *Store) Session(id string) (SessionInfo, error) {
	query := "SELECT id, volume, journal_id, started_at FROM sessions WHERE id = $id"
	if id == "" {
		query = "SELECT id, volume, journal_id, started_at FROM sessions ORDER BY started_at DESC LIMIT 1"
	}

	stmt, err := s.conn.Prepare(query)
	if err != nil {
		return SessionInfo{}, errors.Wrap(err, "prepare session query")
	}
	if id != "" {
		stmt.SetText("$id", id)
	}

	hasRow, err := stmt.Step()
	if err != nil {
		return SessionInfo{}, errors.Wrap(err, "step session query")
	}
	if !hasRow {
		stmt.Finalize()
		if id == "" {
			return SessionInfo{}, ErrNoSessions
		}
		return SessionInfo{}, errors.Errorf("session %s not found", id)
	}

	info := SessionInfo{
		ID:        stmt.GetText("id"),
		Volume:    stmt.GetText("volume"),
		JournalID: decodeID(stmt.GetText("journal_id")),
		StartedAt: decodeTime(stmt.GetText("started_at")),
	}
	return info, stmt.Finalize()
}

// InsertEvents persists a batch of rename events under a session.
func (s *Store) InsertEvents(sessionID string, events []usn.RenameEvent) error {
	if len(events) == 0 {
		return nil
	}

	stmt, err := s.conn.Prepare(
		`INSERT INTO rename_events
		(id, session_id, frn, old_name, new_name, old_parent_frn, new_parent_frn, usn, timestamp)
		VALUES ($id, $session_id, $frn, $old_name, $new_name, $old_parent_frn, $new_parent_frn, $usn, $timestamp)`)
	if err != nil {
		return errors.Wrap(err, "prepare event insert")
	}

	for _, ev := range events {
		stmt.SetText("$id", uuid.New().String())
		stmt.SetText("$session_id", sessionID)
		stmt.SetText("$frn", encodeID(ev.FileReferenceNumber))
		stmt.SetText("$old_name", ev.OldName)
		stmt.SetText("$new_name", ev.NewName)
		stmt.SetText("$old_parent_frn", encodeID(ev.OldParentFRN))
		stmt.SetText("$new_parent_frn", encodeID(ev.NewParentFRN))
		stmt.SetInt64("$usn", ev.Usn)
		stmt.SetText("$timestamp", encodeTime(ev.Timestamp))
		if _, err := stmt.Step(); err != nil {
			return errors.Wrap(err, "insert rename event")
		}
		if err := stmt.Reset(); err != nil {
			return errors.Wrap(err, "reset event insert")
		}
	}
	return stmt.Finalize()
}

// InsertDiagnostics persists unmatched rename legs under a session.
func (s *Store) InsertDiagnostics(sessionID, kind string, names []usn.UnmatchedName) error {
	if len(names) == 0 {
		return nil
	}

	stmt, err := s.conn.Prepare(
		`INSERT INTO diagnostics
		(id, session_id, kind, frn, parent_frn, file_name, usn, timestamp)
		VALUES ($id, $session_id, $kind, $frn, $parent_frn, $file_name, $usn, $timestamp)`)
	if err != nil {
		return errors.Wrap(err, "prepare diagnostic insert")
	}

	for _, n := range names {
		stmt.SetText("$id", uuid.New().String())
		stmt.SetText("$session_id", sessionID)
		stmt.SetText("$kind", kind)
		stmt.SetText("$frn", encodeID(n.FileReferenceNumber))
		stmt.SetText("$parent_frn", encodeID(n.ParentFRN))
		stmt.SetText("$file_name", n.FileName)
		stmt.SetInt64("$usn", n.Usn)
		stmt.SetText("$timestamp", encodeTime(n.Timestamp))
		if _, err := stmt.Step(); err != nil {
			return errors.Wrap(err, "insert diagnostic")
		}
		if err := stmt.Reset(); err != nil {
			return errors.Wrap(err, "reset diagnostic insert")
		}
	}
	return stmt.Finalize()
}

// EventsByFRN returns all stored rename events for a file reference number,
// oldest first. This is the analyzer's "what was this file called before"
// lookup.
func (s *Store) EventsByFRN(frn uint64) ([]usn.RenameEvent, error) {
	stmt, err := s.conn.Prepare(
		"SELECT frn, old_name, new_name, old_parent_frn, new_parent_frn, usn, timestamp FROM rename_events WHERE frn = $frn ORDER BY usn")
	if err != nil {
		return nil, errors.Wrap(err, "prepare frn query")
	}
	stmt.SetText("$frn", encodeID(frn))
	return s.rowsToEvents(stmt)
}

// SessionEvents returns all rename events of one session, oldest first.
func (s *Store) SessionEvents(sessionID string) ([]usn.RenameEvent, error) {
	stmt, err := s.conn.Prepare(
		"SELECT frn, old_name, new_name, old_parent_frn, new_parent_frn, usn, timestamp FROM rename_events WHERE session_id = $session_id ORDER BY usn")
	if err != nil {
		return nil, errors.Wrap(err, "prepare session query")
	}
	stmt.SetText("$session_id", sessionID)
	return s.rowsToEvents(stmt)
}

// SessionDiagnostics returns the unmatched rename legs of one kind recorded
// under a session, oldest first.
func (s *Store) SessionDiagnostics(sessionID, kind string) ([]usn.UnmatchedName, error) {
	stmt, err := s.conn.Prepare(
		"SELECT frn, parent_frn, file_name, usn, timestamp FROM diagnostics WHERE session_id = $session_id AND kind = $kind ORDER BY usn")
	if err != nil {
		return nil, errors.Wrap(err, "prepare diagnostics query")
	}
	stmt.SetText("$session_id", sessionID)
	stmt.SetText("$kind", kind)

	names := []usn.UnmatchedName{}
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, errors.Wrap(err, "step diagnostics query")
		}
		if !hasRow {
			break
		}
		names = append(names, usn.UnmatchedName{
			FileReferenceNumber: decodeID(stmt.GetText("frn")),
			ParentFRN:           decodeID(stmt.GetText("parent_frn")),
			FileName:            stmt.GetText("file_name"),
			Usn:                 stmt.GetInt64("usn"),
			Timestamp:           decodeTime(stmt.GetText("timestamp")),
		})
	}
	return names, stmt.Finalize()
}

func (s *Store) rowsToEvents(stmt *sqlite.Stmt) ([]usn.RenameEvent, error) {
	events := []usn.RenameEvent{}
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, errors.Wrap(err, "step query")
		}
		if !hasRow {
			break
		}
		events = append(events, usn.RenameEvent{
			FileReferenceNumber: decodeID(stmt.GetText("frn")),
			OldName:             stmt.GetText("old_name"),
			NewName:             stmt.GetText("new_name"),
			OldParentFRN:        decodeID(stmt.GetText("old_parent_frn")),
			NewParentFRN:        decodeID(stmt.GetText("new_parent_frn")),
			Usn:                 stmt.GetInt64("usn"),
			Timestamp:           decodeTime(stmt.GetText("timestamp")),
		})
	}
	return events, stmt.Finalize()
}

func (s *Store) Close() error {
	return s.conn.Close()
}

// IDs are 64-bit unsigned and may exceed sqlite's signed integer range, so
// they are stored as decimal text.
func encodeID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func decodeID(s string) uint64 {
	id, _ := strconv.ParseUint(s, 10, 64)
	return id
}

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
