package usn

import (
	"encoding/binary"
	"errors"
	"reflect"
	"testing"
	"time"
	"unicode/utf16"
)

func isMalformed(err error) bool { return errors.Is(err, ErrMalformedRecord) }

// encodeRecord builds a synthetic version 2 journal record with the name
// placed directly behind the fixed header, padded to an 8-byte boundary as
// NTFS does.
func encodeRecord(frn, parent uint64, usn int64, ts time.Time, reason uint32, name string) []byte {
	nameBytes := encodeUTF16LE(name)
	length := (RecordHeaderSize + len(nameBytes) + 7) &^ 7

	b := make([]byte, length)
	binary.LittleEndian.PutUint32(b[0:], uint32(length))
	binary.LittleEndian.PutUint16(b[4:], 2)
	binary.LittleEndian.PutUint64(b[8:], frn)
	binary.LittleEndian.PutUint64(b[16:], parent)
	binary.LittleEndian.PutUint64(b[24:], uint64(usn))
	binary.LittleEndian.PutUint64(b[32:], uint64(TimeToFiletime(ts)))
	binary.LittleEndian.PutUint32(b[40:], reason)
	binary.LittleEndian.PutUint32(b[52:], 0x20) // archive
	binary.LittleEndian.PutUint16(b[56:], uint16(len(nameBytes)))
	binary.LittleEndian.PutUint16(b[58:], RecordHeaderSize)
	copy(b[RecordHeaderSize:], nameBytes)
	return b
}

func encodeUTF16LE(s string) []byte {
	units := utf16.Encode([]rune(s))
	b := make([]byte, 2*len(units))
	for i, u := range units {
		binary.LittleEndian.PutUint16(b[2*i:], u)
	}
	return b
}

// encodeBatch prepends the 8-byte resumption cursor to concatenated records.
func encodeBatch(nextUsn int64, records ...[]byte) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(nextUsn))
	for _, rec := range records {
		b = append(b, rec...)
	}
	return b
}

func TestDecodeRecordRoundTrip(t *testing.T) {
	ts := time.Date(2023, 11, 5, 14, 30, 0, 0, time.UTC)
	raw := encodeRecord(42, 5, 1000, ts, ReasonRenameOldName|ReasonClose, "report-final.docx")

	rec, err := DecodeRecord(raw)
	if err != nil {
		t.Fatalf("DecodeRecord failed: %v", err)
	}

	if rec.FileName != "report-final.docx" {
		t.Errorf("FileName = %q, want %q", rec.FileName, "report-final.docx")
	}
	if rec.FileReferenceNumber != 42 {
		t.Errorf("FileReferenceNumber = %d, want 42", rec.FileReferenceNumber)
	}
	if rec.ParentFileReferenceNumber != 5 {
		t.Errorf("ParentFileReferenceNumber = %d, want 5", rec.ParentFileReferenceNumber)
	}
	if rec.Usn != 1000 {
		t.Errorf("Usn = %d, want 1000", rec.Usn)
	}
	if !rec.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", rec.Timestamp, ts)
	}
	if !rec.IsRenameOldName() {
		t.Error("expected RENAME_OLD_NAME flag")
	}
	if rec.IsRenameNewName() {
		t.Error("unexpected RENAME_NEW_NAME flag")
	}
	if rec.MajorVersion != 2 {
		t.Errorf("MajorVersion = %d, want 2", rec.MajorVersion)
	}
}

func TestDecodeRecordNonASCIIName(t *testing.T) {
	raw := encodeRecord(7, 5, 10, time.Now(), ReasonFileCreate, "Überweisung-契約.pdf")

	rec, err := DecodeRecord(raw)
	if err != nil {
		t.Fatalf("DecodeRecord failed: %v", err)
	}
	if rec.FileName != "Überweisung-契約.pdf" {
		t.Errorf("FileName = %q, want the original name", rec.FileName)
	}
}

func TestDecodeRecordIdempotent(t *testing.T) {
	raw := encodeRecord(9, 5, 77, time.Now().UTC(), ReasonRenameNewName, "b.txt")

	first, err := DecodeRecord(raw)
	if err != nil {
		t.Fatalf("first decode failed: %v", err)
	}
	second, err := DecodeRecord(raw)
	if err != nil {
		t.Fatalf("second decode failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("decoding the same bytes twice diverged:\n%+v\n%+v", first, second)
	}
}

func TestDecodeRecordMalformed(t *testing.T) {
	valid := encodeRecord(1, 5, 1, time.Now(), ReasonFileCreate, "ok.txt")

	tooShort := make([]byte, RecordHeaderSize-1)

	lengthPastSlice := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint32(lengthPastSlice[0:], uint32(len(lengthPastSlice)+8))

	lengthBelowHeader := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint32(lengthBelowHeader[0:], RecordHeaderSize-4)

	nameOverrun := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint16(nameOverrun[56:], uint16(len(nameOverrun))) // offset 60 + this > slice

	nameInHeader := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint16(nameInHeader[58:], 8) // offset inside the fixed header

	cases := []struct {
		name string
		raw  []byte
	}{
		{"slice shorter than header", tooShort},
		{"declared length past slice", lengthPastSlice},
		{"declared length below header size", lengthBelowHeader},
		{"name bounds past slice", nameOverrun},
		{"name offset inside header", nameInHeader},
	}

	for _, tc := range cases {
		if _, err := DecodeRecord(tc.raw); err == nil {
			t.Errorf("%s: expected ErrMalformedRecord, got nil", tc.name)
		} else if !isMalformed(err) {
			t.Errorf("%s: expected ErrMalformedRecord, got %v", tc.name, err)
		}
	}

	// The valid record still decodes after all the mutated copies.
	if _, err := DecodeRecord(valid); err != nil {
		t.Fatalf("valid record failed to decode: %v", err)
	}
}

func TestDecodeRecordOddNameLength(t *testing.T) {
	raw := encodeRecord(3, 5, 30, time.Now(), ReasonFileCreate, "abc")
	binary.LittleEndian.PutUint16(raw[56:], 5) // 2.5 code units

	rec, err := DecodeRecord(raw)
	if err != nil {
		t.Fatalf("DecodeRecord failed: %v", err)
	}
	if rec.FileName != "ab" {
		t.Errorf("FileName = %q, want the trailing odd byte dropped", rec.FileName)
	}
}

func TestDecodeRecordUnavailableTimestamp(t *testing.T) {
	raw := encodeRecord(3, 5, 30, time.Time{}, ReasonFileCreate, "x")

	rec, err := DecodeRecord(raw)
	if err != nil {
		t.Fatalf("DecodeRecord failed: %v", err)
	}
	if !rec.Timestamp.IsZero() {
		t.Errorf("Timestamp = %v, want zero for unavailable", rec.Timestamp)
	}
}

func TestSplitBatch(t *testing.T) {
	r1 := encodeRecord(1, 5, 100, time.Now(), ReasonFileCreate, "one.txt")
	r2 := encodeRecord(2, 5, 101, time.Now(), ReasonFileDelete, "two.txt")
	raw := encodeBatch(500, r1, r2)

	nextUsn, records, err := SplitBatch(raw)
	if err != nil {
		t.Fatalf("SplitBatch failed: %v", err)
	}
	if nextUsn != 500 {
		t.Errorf("nextUsn = %d, want 500", nextUsn)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if len(records[0]) != len(r1) || len(records[1]) != len(r2) {
		t.Errorf("record lengths = %d,%d, want %d,%d",
			len(records[0]), len(records[1]), len(r1), len(r2))
	}
}

func TestSplitBatchEmpty(t *testing.T) {
	nextUsn, records, err := SplitBatch(encodeBatch(1234))
	if err != nil {
		t.Fatalf("SplitBatch failed: %v", err)
	}
	if nextUsn != 1234 {
		t.Errorf("nextUsn = %d, want 1234", nextUsn)
	}
	if len(records) != 0 {
		t.Errorf("got %d records from an empty batch, want 0", len(records))
	}
}

func TestSplitBatchShortBuffer(t *testing.T) {
	if _, _, err := SplitBatch([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error for a buffer shorter than the cursor")
	}
}

func TestSplitBatchTruncatedTail(t *testing.T) {
	r1 := encodeRecord(1, 5, 100, time.Now(), ReasonFileCreate, "one.txt")
	r2 := encodeRecord(2, 5, 101, time.Now(), ReasonFileDelete, "two.txt")
	raw := encodeBatch(500, r1, r2)
	raw = raw[:len(raw)-4] // cut into the last record

	_, records, err := SplitBatch(raw)
	if err != nil {
		t.Fatalf("SplitBatch failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 (truncated tail skipped)", len(records))
	}
}

func TestDecodeAllSkipsMalformed(t *testing.T) {
	good := encodeRecord(1, 5, 100, time.Now(), ReasonFileCreate, "good.txt")
	bad := append([]byte(nil), good...)
	binary.LittleEndian.PutUint16(bad[56:], uint16(len(bad))) // name overruns

	records, stats := DecodeAll([][]byte{good, bad, good})
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if stats.Decoded != 2 || stats.Malformed != 1 {
		t.Errorf("stats = %+v, want 2 decoded / 1 malformed", stats)
	}
}

func TestDecodeJournalStats(t *testing.T) {
	b := make([]byte, journalStatsSize)
	fields := []uint64{0xABCDEF, 100, 9000, 50, 1 << 40, 32 << 20, 8 << 20}
	for i, f := range fields {
		binary.LittleEndian.PutUint64(b[i*8:], f)
	}

	stats, err := DecodeJournalStats(b)
	if err != nil {
		t.Fatalf("DecodeJournalStats failed: %v", err)
	}
	want := JournalStats{
		JournalID:       0xABCDEF,
		FirstUsn:        100,
		NextUsn:         9000,
		LowestValidUsn:  50,
		MaxUsn:          1 << 40,
		MaximumSize:     32 << 20,
		AllocationDelta: 8 << 20,
	}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}

	if _, err := DecodeJournalStats(b[:48]); err == nil {
		t.Error("expected an error for a short query response")
	}
}
