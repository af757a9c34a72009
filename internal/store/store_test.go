package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forensichub/usnwatch/internal/usn"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "evidence.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)

	sessionID, err := s.BeginSession(`\\.\C:`, 0xCAFE)
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	ts := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	events := []usn.RenameEvent{
		{
			OldName:             "notes.txt",
			NewName:             "notes.exe",
			FileReferenceNumber: 7,
			OldParentFRN:        100,
			NewParentFRN:        100,
			Usn:                 1002,
			Timestamp:           ts,
		},
		{
			OldName:             "a.doc",
			NewName:             "b.doc",
			FileReferenceNumber: 9,
			OldParentFRN:        200,
			NewParentFRN:        300,
			Usn:                 1010,
			Timestamp:           ts.Add(time.Minute),
		},
	}
	require.NoError(t, s.InsertEvents(sessionID, events))

	got, err := s.SessionEvents(sessionID)
	require.NoError(t, err)
	assert.Equal(t, events, got)
}

func TestStoreEventsByFRN(t *testing.T) {
	s := newTestStore(t)

	sessionID, err := s.BeginSession(`\\.\C:`, 1)
	require.NoError(t, err)

	// Two renames of the same object, one of another.
	require.NoError(t, s.InsertEvents(sessionID, []usn.RenameEvent{
		{OldName: "v2", NewName: "v3", FileReferenceNumber: 7, Usn: 20},
		{OldName: "v1", NewName: "v2", FileReferenceNumber: 7, Usn: 10},
		{OldName: "x", NewName: "y", FileReferenceNumber: 8, Usn: 15},
	}))

	got, err := s.EventsByFRN(7)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "v1", got[0].OldName, "events come back in USN order")
	assert.Equal(t, "v3", got[1].NewName)

	none, err := s.EventsByFRN(404)
	require.NoError(t, err)
	assert.Empty(t, none, "unknown FRN means no known previous name")
}

func TestStoreLargeFRN(t *testing.T) {
	s := newTestStore(t)

	sessionID, err := s.BeginSession(`\\.\D:`, ^uint64(0))
	require.NoError(t, err)

	// FRNs carry a sequence number in the high bits and routinely exceed
	// sqlite's signed integer range.
	frn := ^uint64(0) - 5
	require.NoError(t, s.InsertEvents(sessionID, []usn.RenameEvent{
		{OldName: "a", NewName: "b", FileReferenceNumber: frn, Usn: 1},
	}))

	got, err := s.EventsByFRN(frn)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, frn, got[0].FileReferenceNumber)
}

func TestStoreDiagnostics(t *testing.T) {
	s := newTestStore(t)

	sessionID, err := s.BeginSession(`\\.\C:`, 1)
	require.NoError(t, err)

	names := []usn.UnmatchedName{
		{FileReferenceNumber: 3, ParentFRN: 30, FileName: "ghost.tmp", Usn: 5},
	}
	require.NoError(t, s.InsertDiagnostics(sessionID, KindUnmatchedOldName, names))
	require.NoError(t, s.InsertDiagnostics(sessionID, KindUnmatchedNewName, nil), "empty insert is a no-op")

	got, err := s.SessionDiagnostics(sessionID, KindUnmatchedOldName)
	require.NoError(t, err)
	assert.Equal(t, names, got)

	none, err := s.SessionDiagnostics(sessionID, KindUnmatchedNewName)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStoreSessionLookup(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Session("")
	assert.ErrorIs(t, err, ErrNoSessions)

	first, err := s.BeginSession(`\\.\C:`, 0xBEEF)
	require.NoError(t, err)
	second, err := s.BeginSession(`\\.\D:`, 0xF00D)
	require.NoError(t, err)

	info, err := s.Session(first)
	require.NoError(t, err)
	assert.Equal(t, `\\.\C:`, info.Volume)
	assert.Equal(t, uint64(0xBEEF), info.JournalID)

	latest, err := s.Session("")
	require.NoError(t, err)
	assert.Equal(t, second, latest.ID, "empty id selects the most recent session")

	_, err = s.Session("missing")
	assert.Error(t, err)
}

func TestStoreEmptyEventInsert(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InsertEvents("no-session", nil))
}
