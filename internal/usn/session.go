package usn

import "fmt"

// DefaultBufferSize is the read buffer handed to the journal read control
// code per batch.
const DefaultBufferSize = 1 << 20

// SessionOptions tunes a tracking session. The zero value is usable.
type SessionOptions struct {
	// ReasonMask filters records at the OS level. Zero selects
	// DefaultReasonMask.
	ReasonMask uint32

	// BufferSize is the per-batch read buffer in bytes. Zero selects
	// DefaultBufferSize.
	BufferSize int

	// MaxPending bounds the correlator's pending-old-name table. Zero
	// selects DefaultMaxPending.
	MaxPending int

	// FromStart begins reading at the journal's lowest valid USN instead
	// of its next USN, replaying all retained history.
	FromStart bool
}

// Session is one tracking pass over a volume's change journal: an explicit
// {handle, journal identity, cursor} value rather than ambient state, so
// independent sessions can run over the same volume without sharing a
// cursor. A session owns its volume handle and releases it on Close.
// Sessions are single-threaded by design; the caller drives a poll loop.
type Session struct {
	vol        Volume
	stats      JournalStats
	cursor     int64
	reasonMask uint32
	bufSize    int
	correlator *Correlator
	decode     DecodeStats
}

// Batch is the outcome of one successful ReadBatch/decode/correlate pass.
type Batch struct {
	// Records are the decoded journal records of the batch, in journal
	// order.
	Records []Record

	// Events are the rename events completed by this batch.
	Events []RenameEvent

	// NextUsn is the advanced cursor the next read resumes from.
	NextUsn int64

	// CaughtUp is true when the batch was empty and the cursor did not
	// move: the session has consumed all retained history. Not an error;
	// the caller owns the polling backoff.
	CaughtUp bool
}

// NewSession queries the journal once and positions the cursor. The volume
// handle passes into the session's ownership; on error it is closed before
// returning.
func NewSession(vol Volume, opts SessionOptions) (*Session, error) {
	stats, err := vol.Query()
	if err != nil {
		vol.Close()
		return nil, fmt.Errorf("query journal: %w", err)
	}

	s := &Session{
		vol:        vol,
		stats:      stats,
		reasonMask: opts.ReasonMask,
		bufSize:    opts.BufferSize,
		correlator: NewCorrelator(opts.MaxPending),
	}
	if s.reasonMask == 0 {
		s.reasonMask = DefaultReasonMask
	}
	if s.bufSize <= 0 {
		s.bufSize = DefaultBufferSize
	}
	if opts.FromStart {
		s.cursor = stats.LowestValidUsn
	} else {
		s.cursor = stats.NextUsn
	}
	return s, nil
}

// Stats returns the journal identity queried at session start (or at the
// last resync).
func (s *Session) Stats() JournalStats { return s.stats }

// Cursor returns the USN the next batch will start from.
func (s *Session) Cursor() int64 { return s.cursor }

// NextBatch reads one batch from the current cursor, decodes it and feeds
// the correlator. On any failure the correlator and cursor are left
// untouched: batches apply all-or-nothing.
func (s *Session) NextBatch() (Batch, error) {
	if s.cursor < s.stats.LowestValidUsn {
		return Batch{}, fmt.Errorf("start usn %d, lowest valid %d: %w",
			s.cursor, s.stats.LowestValidUsn, ErrJournalTruncated)
	}

	raw, err := s.vol.ReadBatch(s.cursor, s.reasonMask, s.stats.JournalID, s.bufSize)
	if err != nil {
		return Batch{}, err
	}

	nextUsn, rawRecords, err := SplitBatch(raw)
	if err != nil {
		return Batch{}, err
	}

	records, stats := DecodeAll(rawRecords)
	s.decode.Decoded += stats.Decoded
	s.decode.Malformed += stats.Malformed

	batch := Batch{
		Records:  records,
		Events:   s.correlator.FeedAll(records),
		NextUsn:  nextUsn,
		CaughtUp: len(rawRecords) == 0 && nextUsn == s.cursor,
	}
	s.cursor = nextUsn
	return batch, nil
}

// Resync re-queries the journal identity after a continuity error
// (ErrJournalTruncated, ErrJournalIDMismatch) and restarts from the new
// lowest valid USN. Records between the old cursor and that floor are gone;
// the gap is accepted, not papered over. Pending correlator state survives a
// resync: an old-name leg read before truncation can still pair with a
// new-name leg read after it.
func (s *Session) Resync() error {
	stats, err := s.vol.Query()
	if err != nil {
		return fmt.Errorf("requery journal: %w", err)
	}
	s.stats = stats
	s.cursor = stats.LowestValidUsn
	return nil
}

// ResolvePath resolves the current path of a live object by its file
// reference number. Best effort: objects renamed or deleted since the
// record was written resolve to their present location or not at all.
func (s *Session) ResolvePath(frn uint64) (string, error) {
	return s.vol.ResolvePath(frn)
}

// PendingOldNames exposes the correlator's unmatched old-name legs; see
// Correlator.PendingOldNames.
func (s *Session) PendingOldNames() []UnmatchedName {
	return s.correlator.PendingOldNames()
}

// PendingCount reports the size of the pending-old-name table.
func (s *Session) PendingCount() int {
	return s.correlator.PendingCount()
}

// Diagnostics merges pairing and decode anomalies observed so far.
func (s *Session) Diagnostics() (Diagnostics, DecodeStats) {
	return s.correlator.Diagnostics(), s.decode
}

// Close releases the volume handle. Safe to call after a fatal error.
func (s *Session) Close() error {
	return s.vol.Close()
}
