package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forensichub/usnwatch/internal/usn"
)

func event(oldName, newName string) usn.RenameEvent {
	return usn.RenameEvent{OldName: oldName, NewName: newName, FileReferenceNumber: 1}
}

func TestInspectBenignRename(t *testing.T) {
	var d Detector
	_, flagged := d.Inspect(event("document.txt", "report.txt"), "")
	assert.False(t, flagged)
}

func TestInspectExecutableExtensionChange(t *testing.T) {
	var d Detector

	f, flagged := d.Inspect(event("image.jpg", "invoice.exe"), "")
	require.True(t, flagged)
	assert.Contains(t, f.Reasons[0], `executable ".exe"`)

	// exe to exe is not an extension change
	_, flagged = d.Inspect(event("setup.exe", "installer.exe"), "")
	assert.False(t, flagged)
}

func TestInspectExtensionRemoved(t *testing.T) {
	var d Detector
	f, flagged := d.Inspect(event("secrets.docx", "secrets"), "")
	require.True(t, flagged)
	assert.Contains(t, f.Reasons[0], "removed")
}

func TestInspectShortcutConversion(t *testing.T) {
	var d Detector
	_, flagged := d.Inspect(event("tool.exe", "tool.lnk"), "")
	assert.True(t, flagged)
}

func TestInspectHiddenPrefix(t *testing.T) {
	var d Detector
	f, flagged := d.Inspect(event("stash.db", ".stash.db"), "")
	require.True(t, flagged)
	assert.Contains(t, f.Reasons[0], "hidden")
}

func TestInspectObfuscatedNames(t *testing.T) {
	var d Detector

	_, flagged := d.Inspect(event("normal.doc", "invoice..pdf"), "")
	assert.True(t, flagged, "double dot")

	_, flagged = d.Inspect(event("report.pdf", "report\u200e.pdf"), "")
	assert.True(t, flagged, "bidi mark")

	_, flagged = d.Inspect(event("a.tar", "a.tar.gz"), "")
	assert.False(t, flagged, "two dots are ordinary")
}

func TestInspectSystemPath(t *testing.T) {
	var d Detector
	f, flagged := d.Inspect(event("temp.txt", "temp.dll"), `C:\Windows\System32\drivers\temp.dll`)
	require.True(t, flagged)
	assert.Len(t, f.Reasons, 2, "executable change and system path both flagged")
}

func TestInspectAll(t *testing.T) {
	var d Detector
	findings := d.InspectAll([]usn.RenameEvent{
		event("a.txt", "b.txt"),
		event("c.jpg", "c.scr"),
	})
	require.Len(t, findings, 1)
	assert.Equal(t, "c.scr", findings[0].Event.NewName)
}
