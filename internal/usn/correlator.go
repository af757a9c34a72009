package usn

import (
	"sort"
	"time"
)

// DefaultMaxPending bounds the pending-old-name table. The journal never
// guarantees the new-name leg of a rename lands in the processed range, so
// without a bound the table grows indefinitely under sustained unmatched
// renames. When full, the entry with the lowest USN is evicted and counted.
const DefaultMaxPending = 65536

type pendingOldName struct {
	fileName  string
	parentFRN uint64
	usn       int64
	timestamp time.Time
}

// Diagnostics summarizes the pairing anomalies of one correlator. None of
// these are errors; they travel alongside the event stream as metadata.
type Diagnostics struct {
	// UnmatchedNewNames are RENAME_NEW_NAME records whose old-name leg was
	// never seen, typically because it fell before the processed range.
	UnmatchedNewNames []UnmatchedName

	// SupersededOldNames counts old-name legs replaced by a newer
	// unmatched old-name leg for the same file reference number.
	SupersededOldNames int

	// EvictedOldNames counts pending entries dropped to honor the table
	// bound.
	EvictedOldNames int
}

// Correlator pairs RENAME_OLD_NAME / RENAME_NEW_NAME record halves into
// rename events. One correlator serves one session; feeding it the same
// ordered record sequence always yields the same events and diagnostics.
// It is not safe for concurrent use.
type Correlator struct {
	maxPending int
	pending    map[uint64]pendingOldName
	diag       Diagnostics
}

// NewCorrelator returns a correlator whose pending table holds at most
// maxPending unmatched old-name legs. maxPending <= 0 selects
// DefaultMaxPending.
func NewCorrelator(maxPending int) *Correlator {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Correlator{
		maxPending: maxPending,
		pending:    make(map[uint64]pendingOldName),
	}
}

// Feed advances the correlator with one decoded record. It returns a rename
// event and true when the record completes a pair. Records carrying neither
// rename flag are ignored.
func (c *Correlator) Feed(rec Record) (RenameEvent, bool) {
	frn := rec.FileReferenceNumber

	if rec.IsRenameOldName() {
		if _, exists := c.pending[frn]; exists {
			// Only the most recent unmatched leg is retained.
			c.diag.SupersededOldNames++
		} else if len(c.pending) >= c.maxPending {
			c.evictOldest()
		}
		c.pending[frn] = pendingOldName{
			fileName:  rec.FileName,
			parentFRN: rec.ParentFileReferenceNumber,
			usn:       rec.Usn,
			timestamp: rec.Timestamp,
		}
		return RenameEvent{}, false
	}

	if rec.IsRenameNewName() {
		old, ok := c.pending[frn]
		if !ok {
			c.diag.UnmatchedNewNames = append(c.diag.UnmatchedNewNames, UnmatchedName{
				FileReferenceNumber: frn,
				ParentFRN:           rec.ParentFileReferenceNumber,
				FileName:            rec.FileName,
				Usn:                 rec.Usn,
				Timestamp:           rec.Timestamp,
			})
			return RenameEvent{}, false
		}
		delete(c.pending, frn)
		return RenameEvent{
			OldName:             old.fileName,
			NewName:             rec.FileName,
			FileReferenceNumber: frn,
			OldParentFRN:        old.parentFRN,
			NewParentFRN:        rec.ParentFileReferenceNumber,
			Usn:                 rec.Usn,
			Timestamp:           rec.Timestamp,
		}, true
	}

	return RenameEvent{}, false
}

// FeedAll feeds a decoded batch in order and collects the emitted events.
func (c *Correlator) FeedAll(records []Record) []RenameEvent {
	var events []RenameEvent
	for _, rec := range records {
		if ev, ok := c.Feed(rec); ok {
			events = append(events, ev)
		}
	}
	return events
}

// PendingOldNames returns the old-name legs still awaiting a counterpart,
// ordered by USN. At end of session these become unmatched-old-name
// diagnostics.
func (c *Correlator) PendingOldNames() []UnmatchedName {
	leftovers := make([]UnmatchedName, 0, len(c.pending))
	for frn, p := range c.pending {
		leftovers = append(leftovers, UnmatchedName{
			FileReferenceNumber: frn,
			ParentFRN:           p.parentFRN,
			FileName:            p.fileName,
			Usn:                 p.usn,
			Timestamp:           p.timestamp,
		})
	}
	sort.Slice(leftovers, func(i, j int) bool { return leftovers[i].Usn < leftovers[j].Usn })
	return leftovers
}

// PendingCount returns the size of the pending table.
func (c *Correlator) PendingCount() int {
	return len(c.pending)
}

// Diagnostics returns the anomalies observed so far.
func (c *Correlator) Diagnostics() Diagnostics {
	return c.diag
}

func (c *Correlator) evictOldest() {
	var victim uint64
	oldest := int64(0)
	first := true
	for frn, p := range c.pending {
		if first || p.usn < oldest || (p.usn == oldest && frn < victim) {
			victim = frn
			oldest = p.usn
			first = false
		}
	}
	if !first {
		delete(c.pending, victim)
		c.diag.EvictedOldNames++
	}
}
