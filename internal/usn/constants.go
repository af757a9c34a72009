package usn

import (
	"fmt"
	"strings"
)

// Filesystem control codes for the NTFS change journal (winioctl.h).
const (
	FSCTLQueryUsnJournal  = 0x000900F4
	FSCTLReadUsnJournal   = 0x000900BB
	FSCTLDeleteUsnJournal = 0x000900F8
)

// Reason flags set on a journal record (winnt.h). A record's Reason field is
// a bitwise OR of these; bits we do not recognise are passed through as-is.
const (
	ReasonDataOverwrite      uint32 = 0x00000001
	ReasonDataExtend         uint32 = 0x00000002
	ReasonDataTruncation     uint32 = 0x00000004
	ReasonNamedDataOverwrite uint32 = 0x00000010
	ReasonNamedDataExtend    uint32 = 0x00000020
	ReasonNamedDataTruncate  uint32 = 0x00000040
	ReasonFileCreate         uint32 = 0x00000100
	ReasonFileDelete         uint32 = 0x00000200
	ReasonEAChange           uint32 = 0x00000400
	ReasonSecurityChange     uint32 = 0x00000800
	ReasonRenameOldName      uint32 = 0x00001000
	ReasonRenameNewName      uint32 = 0x00002000
	ReasonIndexableChange    uint32 = 0x00004000
	ReasonBasicInfoChange    uint32 = 0x00008000
	ReasonHardLinkChange     uint32 = 0x00010000
	ReasonCompressionChange  uint32 = 0x00020000
	ReasonEncryptionChange   uint32 = 0x00040000
	ReasonObjectIDChange     uint32 = 0x00080000
	ReasonReparsePointChange uint32 = 0x00100000
	ReasonStreamChange       uint32 = 0x00200000
	ReasonClose              uint32 = 0x80000000
)

// DefaultReasonMask covers the changes the rename correlator and the
// anomaly analyzer care about.
const DefaultReasonMask = ReasonDataOverwrite | ReasonDataExtend |
	ReasonDataTruncation | ReasonFileCreate | ReasonFileDelete |
	ReasonRenameOldName | ReasonRenameNewName | ReasonClose

// AllReasons selects every journal record regardless of cause.
const AllReasons uint32 = 0xFFFFFFFF

var reasonNames = []struct {
	flag uint32
	name string
}{
	{ReasonDataOverwrite, "DATA_OVERWRITE"},
	{ReasonDataExtend, "DATA_EXTEND"},
	{ReasonDataTruncation, "DATA_TRUNCATION"},
	{ReasonNamedDataOverwrite, "NAMED_DATA_OVERWRITE"},
	{ReasonNamedDataExtend, "NAMED_DATA_EXTEND"},
	{ReasonNamedDataTruncate, "NAMED_DATA_TRUNCATION"},
	{ReasonFileCreate, "FILE_CREATE"},
	{ReasonFileDelete, "FILE_DELETE"},
	{ReasonEAChange, "EA_CHANGE"},
	{ReasonSecurityChange, "SECURITY_CHANGE"},
	{ReasonRenameOldName, "RENAME_OLD_NAME"},
	{ReasonRenameNewName, "RENAME_NEW_NAME"},
	{ReasonIndexableChange, "INDEXABLE_CHANGE"},
	{ReasonBasicInfoChange, "BASIC_INFO_CHANGE"},
	{ReasonHardLinkChange, "HARD_LINK_CHANGE"},
	{ReasonCompressionChange, "COMPRESSION_CHANGE"},
	{ReasonEncryptionChange, "ENCRYPTION_CHANGE"},
	{ReasonObjectIDChange, "OBJECT_ID_CHANGE"},
	{ReasonReparsePointChange, "REPARSE_POINT_CHANGE"},
	{ReasonStreamChange, "STREAM_CHANGE"},
	{ReasonClose, "CLOSE"},
}

// ReasonString renders a reason bitmask as a pipe-separated list of flag
// names. Bits without a known name are kept as a hex remainder so nothing
// is silently dropped.
func ReasonString(mask uint32) string {
	if mask == 0 {
		return "NONE"
	}

	var parts []string
	remainder := mask
	for _, r := range reasonNames {
		if mask&r.flag != 0 {
			parts = append(parts, r.name)
			remainder &^= r.flag
		}
	}
	if remainder != 0 {
		parts = append(parts, fmt.Sprintf("0x%08X", remainder))
	}
	return strings.Join(parts, "|")
}

// ParseReasonNames converts flag names (as accepted in configuration) back
// into a bitmask. Unknown names are rejected rather than ignored.
func ParseReasonNames(names []string) (uint32, error) {
	var mask uint32
	for _, name := range names {
		upper := strings.ToUpper(strings.TrimSpace(name))
		found := false
		for _, r := range reasonNames {
			if r.name == upper {
				mask |= r.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown reason flag %q", name)
		}
	}
	return mask, nil
}
