// Package usn reads the NTFS update sequence number (USN) change journal of
// a volume and reconstructs rename events from its record stream.
//
// The package splits into a small platform boundary (Volume, implemented
// with raw device control calls on Windows and as an explicit "unsupported"
// everywhere else) and portable logic on top of it: the record decoder, the
// batch splitter and the rename correlator all operate on plain byte slices
// and are exercised by tests on any platform.
package usn

import (
	"encoding/binary"
	"time"
)

// JournalStats describes the identity and cursor bounds of a volume's change
// journal, as returned by the query control code. LowestValidUsn is the
// floor below which journal history has been truncated and is no longer
// retrievable.
type JournalStats struct {
	JournalID       uint64
	FirstUsn        int64
	NextUsn         int64
	LowestValidUsn  int64
	MaxUsn          int64
	MaximumSize     uint64
	AllocationDelta uint64
}

// journalStatsSize is the fixed size of the V0 query response: seven 8-byte
// little-endian fields.
const journalStatsSize = 56

// DecodeJournalStats parses the raw query response.
func DecodeJournalStats(b []byte) (JournalStats, error) {
	if len(b) < journalStatsSize {
		return JournalStats{}, ErrMalformedRecord
	}
	return JournalStats{
		JournalID:       binary.LittleEndian.Uint64(b[0:8]),
		FirstUsn:        int64(binary.LittleEndian.Uint64(b[8:16])),
		NextUsn:         int64(binary.LittleEndian.Uint64(b[16:24])),
		LowestValidUsn:  int64(binary.LittleEndian.Uint64(b[24:32])),
		MaxUsn:          int64(binary.LittleEndian.Uint64(b[32:40])),
		MaximumSize:     binary.LittleEndian.Uint64(b[40:48]),
		AllocationDelta: binary.LittleEndian.Uint64(b[48:56]),
	}, nil
}

// Record is one decoded change journal entry. FileName is only the final
// path component; full paths are resolved separately, and only for objects
// that still exist.
type Record struct {
	RecordLength              uint32
	MajorVersion              uint16
	MinorVersion              uint16
	FileReferenceNumber       uint64
	ParentFileReferenceNumber uint64
	Usn                       int64
	Timestamp                 time.Time
	Reason                    uint32
	SourceInfo                uint32
	SecurityID                uint32
	FileAttributes            uint32
	FileName                  string
}

// IsRenameOldName reports whether the record is the old-name leg of a
// rename transaction.
func (r Record) IsRenameOldName() bool {
	return r.Reason&ReasonRenameOldName != 0
}

// IsRenameNewName reports whether the record is the new-name leg of a
// rename transaction.
func (r Record) IsRenameNewName() bool {
	return r.Reason&ReasonRenameNewName != 0
}

// RenameEvent is a correlated pair of RENAME_OLD_NAME / RENAME_NEW_NAME
// records sharing one file reference number. Timestamp is taken from the
// new-name leg, which closes the rename transaction.
type RenameEvent struct {
	OldName             string    `json:"old_name"`
	NewName             string    `json:"new_name"`
	FileReferenceNumber uint64    `json:"file_reference_number"`
	OldParentFRN        uint64    `json:"old_parent_frn"`
	NewParentFRN        uint64    `json:"new_parent_frn"`
	Usn                 int64     `json:"usn"`
	Timestamp           time.Time `json:"timestamp"`
}

// UnmatchedName is a rename leg whose counterpart was never observed in the
// processed range. These are diagnostics, not errors.
type UnmatchedName struct {
	FileReferenceNumber uint64    `json:"file_reference_number"`
	ParentFRN           uint64    `json:"parent_frn"`
	FileName            string    `json:"file_name"`
	Usn                 int64     `json:"usn"`
	Timestamp           time.Time `json:"timestamp"`
}

// Volume is the platform boundary: an exclusive handle to one volume
// device. Implementations must be non-blocking in ReadBatch and must not
// return partial data on failure.
type Volume interface {
	// Query returns the journal's identity and cursor bounds. It is pure
	// and repeatable.
	Query() (JournalStats, error)

	// ReadBatch issues one bounded read of raw journal bytes starting at
	// startUsn. The returned buffer begins with the 8-byte resumption
	// cursor followed by zero or more complete records. The reason mask
	// is applied by the underlying OS filter.
	ReadBatch(startUsn int64, reasonMask uint32, journalID uint64, bufSize int) ([]byte, error)

	// ResolvePath returns the current canonical path of the live object
	// with the given file reference number.
	ResolvePath(frn uint64) (string, error)

	// Locator returns the opaque volume locator the handle was opened
	// with, for logging.
	Locator() string

	Close() error
}
