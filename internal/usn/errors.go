package usn

import "errors"

var (
	// Resource errors: fatal, surfaced immediately.
	ErrVolumeNotFound = errors.New("volume not found")
	ErrAccessDenied   = errors.New("access denied")

	// Protocol errors: fatal, journal creation is out of scope.
	ErrJournalNotActive = errors.New("change journal not active on volume")
	ErrUnsupported      = errors.New("change journal not supported on this filesystem")

	// Continuity errors: recoverable by re-querying the journal and
	// resuming from its new lowest valid USN.
	ErrJournalTruncated  = errors.New("requested USN below the journal's lowest valid USN")
	ErrJournalIDMismatch = errors.New("journal ID does not match the volume's current journal")

	// Decode errors: localized to a single record.
	ErrMalformedRecord = errors.New("malformed USN record")

	// Resolver errors.
	ErrFileNotFound = errors.New("no live file for reference number")
)
