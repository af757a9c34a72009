//go:build windows

package usn

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

// winVolume holds an exclusive handle to an open volume device.
type winVolume struct {
	handle  windows.Handle
	locator string
}

var (
	modkernel32      = windows.NewLazySystemDLL("kernel32.dll")
	procOpenFileById = modkernel32.NewProc("OpenFileById")
)

// fileIDDescriptor mirrors FILE_ID_DESCRIPTOR with FileIdType: the 64-bit
// file reference number occupies the low 8 bytes of the identifier union.
type fileIDDescriptor struct {
	Size   uint32
	Type   uint32
	FileID [16]byte
}

// readUsnJournalData mirrors READ_USN_JOURNAL_DATA_V0, the request block of
// the journal read control code.
type readUsnJournalData struct {
	StartUsn          int64
	ReasonMask        uint32
	ReturnOnlyOnClose uint32
	Timeout           uint64
	BytesToWaitFor    uint64
	UsnJournalID      uint64
}

// OpenVolume opens an exclusive handle to the volume device behind a drive
// locator ("C", "C:" and "\\.\C:" are all accepted).
func OpenVolume(locator string) (Volume, error) {
	device, err := devicePath(locator)
	if err != nil {
		return nil, err
	}

	pathPtr, err := windows.UTF16PtrFromString(device)
	if err != nil {
		return nil, fmt.Errorf("volume locator %q: %w", locator, err)
	}

	handle, err := windows.CreateFile(
		pathPtr,
		windows.GENERIC_READ,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil,
		windows.OPEN_EXISTING,
		0,
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("open volume %s: %w", device, mapOpenError(err))
	}
	return &winVolume{handle: handle, locator: device}, nil
}

func (v *winVolume) Locator() string { return v.locator }

func (v *winVolume) Query() (JournalStats, error) {
	buf := make([]byte, 64) // USN_JOURNAL_DATA_V1; V0 is the leading 56 bytes
	var bytesReturned uint32

	err := windows.DeviceIoControl(
		v.handle,
		FSCTLQueryUsnJournal,
		nil, 0,
		&buf[0], uint32(len(buf)),
		&bytesReturned,
		nil,
	)
	if err != nil {
		return JournalStats{}, fmt.Errorf("query journal on %s: %w", v.locator, mapJournalError(err))
	}
	return DecodeJournalStats(buf[:bytesReturned])
}

func (v *winVolume) ReadBatch(startUsn int64, reasonMask uint32, journalID uint64, bufSize int) ([]byte, error) {
	if bufSize < 8 {
		bufSize = DefaultBufferSize
	}

	// BytesToWaitFor and Timeout stay zero: the call returns immediately
	// with whatever is available, never blocking for new records.
	request := readUsnJournalData{
		StartUsn:     startUsn,
		ReasonMask:   reasonMask,
		UsnJournalID: journalID,
	}

	buf := make([]byte, bufSize)
	var bytesReturned uint32

	err := windows.DeviceIoControl(
		v.handle,
		FSCTLReadUsnJournal,
		(*byte)(unsafe.Pointer(&request)),
		uint32(unsafe.Sizeof(request)),
		&buf[0], uint32(len(buf)),
		&bytesReturned,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("read journal on %s from usn %d: %w", v.locator, startUsn, mapJournalError(err))
	}
	if bytesReturned < 8 {
		// Defensively report a caught-up batch with an unchanged cursor.
		cursor := make([]byte, 8)
		binary.LittleEndian.PutUint64(cursor, uint64(startUsn))
		return cursor, nil
	}
	return buf[:bytesReturned], nil
}

func (v *winVolume) ResolvePath(frn uint64) (string, error) {
	desc := fileIDDescriptor{Type: 0} // FileIdType
	desc.Size = uint32(unsafe.Sizeof(desc))
	binary.LittleEndian.PutUint64(desc.FileID[:8], frn)

	// Query access only; FILE_FLAG_BACKUP_SEMANTICS is required to open
	// directories by id.
	h, _, callErr := procOpenFileById.Call(
		uintptr(v.handle),
		uintptr(unsafe.Pointer(&desc)),
		0,
		uintptr(windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE),
		0,
		uintptr(windows.FILE_FLAG_BACKUP_SEMANTICS),
	)
	handle := windows.Handle(h)
	if handle == windows.InvalidHandle {
		return "", fmt.Errorf("open by frn %#x: %w", frn, mapResolveError(callErr))
	}
	defer windows.CloseHandle(handle)

	buf := make([]uint16, windows.MAX_PATH)
	for {
		n, err := windows.GetFinalPathNameByHandle(handle, &buf[0], uint32(len(buf)), windows.FILE_NAME_NORMALIZED)
		if err != nil {
			return "", fmt.Errorf("final path for frn %#x: %w", frn, mapResolveError(err))
		}
		if int(n) < len(buf) {
			return strings.TrimPrefix(windows.UTF16ToString(buf[:n]), `\\?\`), nil
		}
		buf = make([]uint16, n+1)
	}
}

func (v *winVolume) Close() error {
	return windows.CloseHandle(v.handle)
}

// devicePath normalizes a drive locator to its \\.\X: device path.
func devicePath(locator string) (string, error) {
	s := strings.TrimSuffix(strings.TrimPrefix(locator, `\\.\`), `\`)
	s = strings.TrimSuffix(s, "/")
	if len(s) == 1 {
		s += ":"
	}
	if len(s) != 2 || s[1] != ':' {
		return "", fmt.Errorf("volume locator %q: %w", locator, ErrVolumeNotFound)
	}
	return `\\.\` + strings.ToUpper(s[:1]) + ":", nil
}

func mapOpenError(err error) error {
	switch err {
	case windows.ERROR_FILE_NOT_FOUND, windows.ERROR_PATH_NOT_FOUND, windows.ERROR_NOT_READY:
		return ErrVolumeNotFound
	case windows.ERROR_ACCESS_DENIED:
		return ErrAccessDenied
	}
	return err
}

func mapJournalError(err error) error {
	switch err {
	case windows.ERROR_JOURNAL_NOT_ACTIVE, windows.ERROR_JOURNAL_DELETE_IN_PROGRESS:
		return ErrJournalNotActive
	case windows.ERROR_JOURNAL_ENTRY_DELETED:
		return ErrJournalTruncated
	case windows.ERROR_INVALID_PARAMETER:
		// The read control code rejects a stale journal ID this way after
		// the journal has been deleted and recreated.
		return ErrJournalIDMismatch
	case windows.ERROR_INVALID_FUNCTION, windows.ERROR_INVALID_DEVICE_REQUEST, windows.ERROR_NOT_SUPPORTED:
		return ErrUnsupported
	case windows.ERROR_ACCESS_DENIED:
		return ErrAccessDenied
	}
	return err
}

func mapResolveError(err error) error {
	switch err {
	case windows.ERROR_FILE_NOT_FOUND, windows.ERROR_PATH_NOT_FOUND, windows.ERROR_INVALID_PARAMETER:
		return ErrFileNotFound
	case windows.ERROR_ACCESS_DENIED:
		return ErrAccessDenied
	}
	return err
}
