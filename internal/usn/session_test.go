package usn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVolume serves queued raw batches, standing in for the device control
// calls the Windows implementation performs.
type fakeVolume struct {
	stats    JournalStats
	batches  [][]byte
	readErr  error
	lastRead struct {
		startUsn   int64
		reasonMask uint32
		journalID  uint64
	}
	paths  map[uint64]string
	closed bool
}

func (f *fakeVolume) Query() (JournalStats, error) { return f.stats, nil }

func (f *fakeVolume) ReadBatch(startUsn int64, reasonMask uint32, journalID uint64, bufSize int) ([]byte, error) {
	f.lastRead.startUsn = startUsn
	f.lastRead.reasonMask = reasonMask
	f.lastRead.journalID = journalID
	if f.readErr != nil {
		return nil, f.readErr
	}
	if len(f.batches) == 0 {
		return encodeBatch(startUsn), nil // caught up
	}
	raw := f.batches[0]
	f.batches = f.batches[1:]
	return raw, nil
}

func (f *fakeVolume) ResolvePath(frn uint64) (string, error) {
	if path, ok := f.paths[frn]; ok {
		return path, nil
	}
	return "", ErrFileNotFound
}

func (f *fakeVolume) Locator() string { return `\\.\T:` }
func (f *fakeVolume) Close() error    { f.closed = true; return nil }

func testStats() JournalStats {
	return JournalStats{
		JournalID:      0xCAFE,
		FirstUsn:       100,
		NextUsn:        1000,
		LowestValidUsn: 100,
		MaxUsn:         1 << 40,
		MaximumSize:    32 << 20,
	}
}

func TestSessionProcessesBatch(t *testing.T) {
	ts := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	old := encodeRecord(7, 50, 1001, ts, ReasonRenameOldName, "a.txt")
	renamed := encodeRecord(7, 50, 1002, ts.Add(time.Second), ReasonRenameNewName, "b.txt")

	vol := &fakeVolume{stats: testStats(), batches: [][]byte{encodeBatch(1003, old, renamed)}}
	s, err := NewSession(vol, SessionOptions{})
	require.NoError(t, err)
	defer s.Close()

	batch, err := s.NextBatch()
	require.NoError(t, err)

	assert.Len(t, batch.Records, 2)
	require.Len(t, batch.Events, 1)
	assert.Equal(t, "a.txt", batch.Events[0].OldName)
	assert.Equal(t, "b.txt", batch.Events[0].NewName)
	assert.Equal(t, uint64(7), batch.Events[0].FileReferenceNumber)
	assert.Equal(t, int64(1003), batch.NextUsn)
	assert.False(t, batch.CaughtUp)
	assert.Equal(t, int64(1003), s.Cursor())

	// The read was issued with the session's identity and cursor.
	assert.Equal(t, int64(1000), vol.lastRead.startUsn)
	assert.Equal(t, uint64(0xCAFE), vol.lastRead.journalID)
	assert.Equal(t, DefaultReasonMask, vol.lastRead.reasonMask)
}

func TestSessionEmptyBatchIsCaughtUp(t *testing.T) {
	vol := &fakeVolume{stats: testStats()}
	s, err := NewSession(vol, SessionOptions{})
	require.NoError(t, err)
	defer s.Close()

	batch, err := s.NextBatch()
	require.NoError(t, err, "an empty batch is not an error")
	assert.True(t, batch.CaughtUp)
	assert.Empty(t, batch.Records)
	assert.Equal(t, int64(1000), batch.NextUsn, "cursor unchanged")
	assert.Equal(t, int64(1000), s.Cursor())
}

func TestSessionFromStart(t *testing.T) {
	vol := &fakeVolume{stats: testStats()}
	s, err := NewSession(vol, SessionOptions{FromStart: true})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, int64(100), s.Cursor(), "FromStart begins at the lowest valid USN")
}

func TestSessionTruncationDetectedLocally(t *testing.T) {
	stats := testStats()
	stats.LowestValidUsn = 5000 // journal wrapped past our cursor
	vol := &fakeVolume{stats: stats}

	s, err := NewSession(vol, SessionOptions{})
	require.NoError(t, err)
	defer s.Close()

	// Simulate a cursor that fell below the floor after a later requery.
	s.cursor = 100

	_, err = s.NextBatch()
	require.ErrorIs(t, err, ErrJournalTruncated)
	assert.Equal(t, int64(100), s.Cursor(), "a failed batch must not move the cursor")
}

func TestSessionResync(t *testing.T) {
	vol := &fakeVolume{stats: testStats()}
	s, err := NewSession(vol, SessionOptions{})
	require.NoError(t, err)
	defer s.Close()

	// Journal recreated: new identity, new bounds.
	vol.stats = JournalStats{JournalID: 0xBEEF, FirstUsn: 1, NextUsn: 50, LowestValidUsn: 1}

	require.NoError(t, s.Resync())
	assert.Equal(t, uint64(0xBEEF), s.Stats().JournalID)
	assert.Equal(t, int64(1), s.Cursor(), "resync restarts from the new lowest valid USN")
}

func TestSessionFailedReadLeavesStateUntouched(t *testing.T) {
	ts := time.Now().UTC()
	old := encodeRecord(7, 50, 1001, ts, ReasonRenameOldName, "a.txt")
	renamed := encodeRecord(7, 50, 1002, ts, ReasonRenameNewName, "b.txt")

	vol := &fakeVolume{stats: testStats(), batches: [][]byte{
		encodeBatch(1002, old),
		encodeBatch(1003, renamed),
	}}
	s, err := NewSession(vol, SessionOptions{})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.NextBatch()
	require.NoError(t, err)
	assert.Equal(t, 1, s.correlator.PendingCount())

	// A failed read must neither move the cursor nor touch the pending
	// table.
	vol.readErr = ErrJournalIDMismatch
	_, err = s.NextBatch()
	require.ErrorIs(t, err, ErrJournalIDMismatch)
	assert.Equal(t, int64(1002), s.Cursor())
	assert.Equal(t, 1, s.correlator.PendingCount())

	// Once the fault clears, the pending leg still pairs.
	vol.readErr = nil
	batch, err := s.NextBatch()
	require.NoError(t, err)
	require.Len(t, batch.Events, 1)
	assert.Equal(t, "a.txt", batch.Events[0].OldName)
}

func TestSessionResolvePath(t *testing.T) {
	vol := &fakeVolume{stats: testStats(), paths: map[uint64]string{7: `C:\Users\kim\b.txt`}}
	s, err := NewSession(vol, SessionOptions{})
	require.NoError(t, err)
	defer s.Close()

	path, err := s.ResolvePath(7)
	require.NoError(t, err)
	assert.Equal(t, `C:\Users\kim\b.txt`, path)

	_, err = s.ResolvePath(99)
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestSessionCloseReleasesVolume(t *testing.T) {
	vol := &fakeVolume{stats: testStats()}
	s, err := NewSession(vol, SessionOptions{})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.True(t, vol.closed)
}
