// Package detect applies rename heuristics to correlated journal events,
// flagging patterns commonly used to disguise files after tampering.
package detect

import (
	"fmt"
	"path"
	"strings"

	"github.com/forensichub/usnwatch/internal/usn"
)

// executableExtensions are extensions a document rarely turns into
// legitimately.
var executableExtensions = map[string]bool{
	".exe": true, ".dll": true, ".bat": true, ".cmd": true, ".ps1": true,
	".vbs": true, ".js": true, ".jar": true, ".sh": true, ".py": true,
	".scr": true, ".com": true,
}

// systemPathFragments mark locations where a rename is inherently more
// interesting.
var systemPathFragments = []string{
	`windows\system32`,
	`windows\syswow64`,
	`program files`,
	`programdata`,
	"/bin", "/sbin", "/usr/bin", "/usr/sbin", "/etc", "/lib",
}

// Finding explains why a rename event was flagged.
type Finding struct {
	Event   usn.RenameEvent `json:"event"`
	Reasons []string        `json:"reasons"`
}

// Detector inspects rename events. The zero value applies all heuristics.
type Detector struct{}

// Inspect returns a finding when the event matches at least one heuristic,
// and false otherwise. ResolvedPath may be empty when the FRN no longer
// resolves; name-only heuristics still apply.
func (Detector) Inspect(ev usn.RenameEvent, resolvedPath string) (Finding, bool) {
	var reasons []string

	if r, ok := extensionChange(ev.OldName, ev.NewName); ok {
		reasons = append(reasons, r)
	}
	if r, ok := hiddenPrefix(ev.OldName, ev.NewName); ok {
		reasons = append(reasons, r)
	}
	if r, ok := obfuscatedName(ev.NewName); ok {
		reasons = append(reasons, r)
	}
	if resolvedPath != "" && isSystemPath(resolvedPath) {
		reasons = append(reasons, fmt.Sprintf("rename involves system path %q", resolvedPath))
	}

	if len(reasons) == 0 {
		return Finding{}, false
	}
	return Finding{Event: ev, Reasons: reasons}, true
}

// InspectAll filters a batch of events down to its findings.
func (d Detector) InspectAll(events []usn.RenameEvent) []Finding {
	var findings []Finding
	for _, ev := range events {
		if f, ok := d.Inspect(ev, ""); ok {
			findings = append(findings, f)
		}
	}
	return findings
}

func extensionChange(oldName, newName string) (string, bool) {
	oldExt := strings.ToLower(path.Ext(oldName))
	newExt := strings.ToLower(path.Ext(newName))
	if oldExt == newExt {
		return "", false
	}

	switch {
	case newExt != "" && executableExtensions[newExt] && !executableExtensions[oldExt]:
		return fmt.Sprintf("extension changed from %q to executable %q", oldExt, newExt), true
	case newExt == ".lnk":
		return fmt.Sprintf("extension changed from %q to shortcut .lnk", oldExt), true
	case oldExt != "" && newExt == "":
		return fmt.Sprintf("extension %q removed", oldExt), true
	}
	return "", false
}

func hiddenPrefix(oldName, newName string) (string, bool) {
	if !strings.HasPrefix(oldName, ".") && strings.HasPrefix(newName, ".") {
		return "renamed to a dot-prefixed hidden name", true
	}
	return "", false
}

func obfuscatedName(name string) (string, bool) {
	if strings.Contains(name, "..") || strings.Count(name, ".") > 2 {
		return "name contains an unusual dot pattern", true
	}
	for _, r := range name {
		// Control characters and zero-width/bidi marks hide the real
		// extension from directory listings.
		if r < 0x20 || r == 0x7F || (r >= 0x200B && r <= 0x200F) || (r >= 0x202A && r <= 0x202E) {
			return fmt.Sprintf("name contains obfuscating character U+%04X", r), true
		}
	}
	return "", false
}

func isSystemPath(p string) bool {
	lower := strings.ToLower(p)
	for _, fragment := range systemPathFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}
