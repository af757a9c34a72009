package usn

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

// RecordHeaderSize is the fixed portion of a version 2 journal record. The
// variable-length UTF-16LE file name follows at the offset the record itself
// declares, so RecordLength (not the header size) is the mandatory advance
// amount when walking a batch.
const RecordHeaderSize = 60

// Fixed header layout (little-endian):
//
//	 0  RecordLength               uint32
//	 4  MajorVersion               uint16
//	 6  MinorVersion               uint16
//	 8  FileReferenceNumber        uint64
//	16  ParentFileReferenceNumber  uint64
//	24  Usn                        int64
//	32  TimeStamp                  int64 (FILETIME)
//	40  Reason                     uint32
//	44  SourceInfo                 uint32
//	48  SecurityId                 uint32
//	52  FileAttributes             uint32
//	56  FileNameLength             uint16 (bytes)
//	58  FileNameOffset             uint16 (from record start)

var utf16Decoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()

// DecodeRecord decodes a single raw record slice. The declared name bounds
// are validated against the slice before any read, so a hostile record can
// declare whatever it likes without causing an out-of-bounds access. Invalid
// UTF-16 in the name is substituted, never fatal.
func DecodeRecord(b []byte) (Record, error) {
	if len(b) < RecordHeaderSize {
		return Record{}, fmt.Errorf("%w: %d bytes, want at least %d", ErrMalformedRecord, len(b), RecordHeaderSize)
	}

	recordLength := binary.LittleEndian.Uint32(b[0:4])
	if recordLength < RecordHeaderSize || int(recordLength) > len(b) {
		return Record{}, fmt.Errorf("%w: declared length %d outside slice of %d bytes", ErrMalformedRecord, recordLength, len(b))
	}

	nameLen := int(binary.LittleEndian.Uint16(b[56:58]))
	nameOff := int(binary.LittleEndian.Uint16(b[58:60]))
	if nameOff < RecordHeaderSize || nameOff+nameLen > len(b) {
		return Record{}, fmt.Errorf("%w: name bytes [%d:%d) outside slice of %d bytes", ErrMalformedRecord, nameOff, nameOff+nameLen, len(b))
	}
	// UTF-16 code units are 2 bytes; drop a trailing odd byte.
	nameLen &^= 1

	name, err := utf16Decoder.Bytes(b[nameOff : nameOff+nameLen])
	if err != nil {
		// The decoder substitutes invalid input; an error here means the
		// transform itself failed, which leaves us with no name at all.
		name = nil
	}

	return Record{
		RecordLength:              recordLength,
		MajorVersion:              binary.LittleEndian.Uint16(b[4:6]),
		MinorVersion:              binary.LittleEndian.Uint16(b[6:8]),
		FileReferenceNumber:       binary.LittleEndian.Uint64(b[8:16]),
		ParentFileReferenceNumber: binary.LittleEndian.Uint64(b[16:24]),
		Usn:                       int64(binary.LittleEndian.Uint64(b[24:32])),
		Timestamp:                 FiletimeToTime(int64(binary.LittleEndian.Uint64(b[32:40]))),
		Reason:                    binary.LittleEndian.Uint32(b[40:44]),
		SourceInfo:                binary.LittleEndian.Uint32(b[44:48]),
		SecurityID:                binary.LittleEndian.Uint32(b[48:52]),
		FileAttributes:            binary.LittleEndian.Uint32(b[52:56]),
		FileName:                  string(name),
	}, nil
}

// SplitBatch separates one raw read buffer into the resumption cursor and
// the complete, self-length-prefixed record slices behind it. Records never
// span a read boundary, so a declared length running past the buffer means
// the tail is garbage; splitting stops there and the caller sees the partial
// region as skipped bytes.
func SplitBatch(raw []byte) (nextUsn int64, records [][]byte, err error) {
	if len(raw) < 8 {
		return 0, nil, fmt.Errorf("%w: batch of %d bytes lacks a cursor", ErrMalformedRecord, len(raw))
	}
	nextUsn = int64(binary.LittleEndian.Uint64(raw[0:8]))

	for off := 8; off+4 <= len(raw); {
		recordLength := int(binary.LittleEndian.Uint32(raw[off : off+4]))
		if recordLength == 0 {
			break
		}
		if recordLength < RecordHeaderSize {
			// Garbage length. Keep the slice so the decoder can count it
			// as malformed, then advance by the minimum record size so one
			// bad record cannot stall the walk.
			end := off + RecordHeaderSize
			if end > len(raw) {
				end = len(raw)
			}
			records = append(records, raw[off:end])
			off += RecordHeaderSize
			continue
		}
		if off+recordLength > len(raw) {
			break
		}
		records = append(records, raw[off:off+recordLength])
		off += recordLength
	}
	return nextUsn, records, nil
}

// DecodeStats counts the outcome of decoding one batch.
type DecodeStats struct {
	Decoded   int
	Malformed int
}

// DecodeAll decodes every record slice of a batch, skipping malformed
// records rather than aborting. Decoding the same input again yields
// identical records and stats.
func DecodeAll(rawRecords [][]byte) ([]Record, DecodeStats) {
	var stats DecodeStats
	records := make([]Record, 0, len(rawRecords))
	for _, raw := range rawRecords {
		rec, err := DecodeRecord(raw)
		if err != nil {
			stats.Malformed++
			continue
		}
		stats.Decoded++
		records = append(records, rec)
	}
	return records, stats
}
