// Package export writes correlated rename events and session diagnostics to
// a JSON-lines report, optionally xz-compressed for archival.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/ulikunitz/xz"

	"github.com/forensichub/usnwatch/internal/usn"
)

// Report bundles everything one session produced.
type Report struct {
	Volume            string              `json:"volume"`
	JournalID         uint64              `json:"journal_id"`
	GeneratedAt       time.Time           `json:"generated_at"`
	Events            []usn.RenameEvent   `json:"-"`
	UnmatchedNewNames []usn.UnmatchedName `json:"-"`
	UnmatchedOldNames []usn.UnmatchedName `json:"-"`
}

// line is one JSON-lines entry; Kind discriminates the payload.
type line struct {
	Kind      string             `json:"kind"`
	Header    *Report            `json:"header,omitempty"`
	Event     *usn.RenameEvent   `json:"event,omitempty"`
	Unmatched *usn.UnmatchedName `json:"unmatched,omitempty"`
}

// Writer emits reports onto a filesystem. The zero value is not usable; use
// NewWriter, which defaults to the OS filesystem.
type Writer struct {
	fs       afero.Fs
	compress bool
}

// NewWriter returns a report writer. A nil fs selects the OS filesystem.
func NewWriter(fs afero.Fs, compress bool) *Writer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Writer{fs: fs, compress: compress}
}

// Write stores the report at path. With compression enabled an ".xz" suffix
// is appended unless already present. The path actually written is returned.
func (w *Writer) Write(path string, report Report) (string, error) {
	if w.compress && !strings.HasSuffix(path, ".xz") {
		path += ".xz"
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := w.fs.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create report directory: %w", err)
		}
	}

	f, err := w.fs.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report %s: %w", path, err)
	}

	var out io.Writer = f
	var xzWriter *xz.Writer
	if w.compress {
		xzWriter, err = xz.NewWriter(f)
		if err != nil {
			f.Close()
			return "", fmt.Errorf("start xz stream: %w", err)
		}
		out = xzWriter
	}

	if err := writeLines(out, report); err != nil {
		f.Close()
		return "", err
	}

	if xzWriter != nil {
		if err := xzWriter.Close(); err != nil {
			f.Close()
			return "", fmt.Errorf("finish xz stream: %w", err)
		}
	}
	return path, f.Close()
}

func writeLines(out io.Writer, report Report) error {
	enc := json.NewEncoder(out)

	header := report
	if err := enc.Encode(line{Kind: "header", Header: &header}); err != nil {
		return fmt.Errorf("write report header: %w", err)
	}
	for i := range report.Events {
		if err := enc.Encode(line{Kind: "rename", Event: &report.Events[i]}); err != nil {
			return fmt.Errorf("write rename event: %w", err)
		}
	}
	for i := range report.UnmatchedNewNames {
		if err := enc.Encode(line{Kind: "unmatched_new_name", Unmatched: &report.UnmatchedNewNames[i]}); err != nil {
			return fmt.Errorf("write diagnostic: %w", err)
		}
	}
	for i := range report.UnmatchedOldNames {
		if err := enc.Encode(line{Kind: "unmatched_old_name", Unmatched: &report.UnmatchedOldNames[i]}); err != nil {
			return fmt.Errorf("write diagnostic: %w", err)
		}
	}
	return nil
}

// Read loads a report previously written by Write, transparently handling
// xz-compressed files.
func Read(fs afero.Fs, path string) (Report, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	f, err := fs.Open(path)
	if err != nil {
		return Report{}, fmt.Errorf("open report %s: %w", path, err)
	}
	defer f.Close()

	var in io.Reader = f
	if strings.HasSuffix(path, ".xz") {
		in, err = xz.NewReader(f)
		if err != nil {
			return Report{}, fmt.Errorf("open xz stream: %w", err)
		}
	}

	var report Report
	dec := json.NewDecoder(in)
	for {
		var l line
		if err := dec.Decode(&l); err == io.EOF {
			break
		} else if err != nil {
			return Report{}, fmt.Errorf("parse report line: %w", err)
		}
		switch l.Kind {
		case "header":
			if l.Header != nil {
				report.Volume = l.Header.Volume
				report.JournalID = l.Header.JournalID
				report.GeneratedAt = l.Header.GeneratedAt
			}
		case "rename":
			if l.Event != nil {
				report.Events = append(report.Events, *l.Event)
			}
		case "unmatched_new_name":
			if l.Unmatched != nil {
				report.UnmatchedNewNames = append(report.UnmatchedNewNames, *l.Unmatched)
			}
		case "unmatched_old_name":
			if l.Unmatched != nil {
				report.UnmatchedOldNames = append(report.UnmatchedOldNames, *l.Unmatched)
			}
		}
	}
	return report, nil
}
