package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/forensichub/usnwatch/internal/config"
	"github.com/forensichub/usnwatch/internal/detect"
	"github.com/forensichub/usnwatch/internal/logger"
	"github.com/forensichub/usnwatch/internal/metrics"
	"github.com/forensichub/usnwatch/internal/store"
	"github.com/forensichub/usnwatch/internal/usn"
)

// journalCmd groups the change journal operations
var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Read and correlate a volume's NTFS change journal",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// journalQueryCmd prints the journal's identity and cursor bounds
var journalQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Print the journal's identity and retained USN range",
	RunE: func(cmd *cobra.Command, args []string) error {
		vol, err := usn.OpenVolume(config.Instance.Journal.Volume)
		if err != nil {
			return fmt.Errorf("open volume %s: %w", config.Instance.Journal.Volume, err)
		}
		defer vol.Close()

		stats, err := vol.Query()
		if err != nil {
			return fmt.Errorf("query journal: %w", err)
		}

		fmt.Printf("Volume:           %s\n", vol.Locator())
		fmt.Printf("Journal ID:       0x%016X\n", stats.JournalID)
		fmt.Printf("First USN:        %d\n", stats.FirstUsn)
		fmt.Printf("Next USN:         %d\n", stats.NextUsn)
		fmt.Printf("Lowest valid USN: %d\n", stats.LowestValidUsn)
		fmt.Printf("Max USN:          %d\n", stats.MaxUsn)
		fmt.Printf("Maximum size:     %d bytes\n", stats.MaximumSize)
		fmt.Printf("Allocation delta: %d bytes\n", stats.AllocationDelta)
		return nil
	},
}

// journalRenamesCmd replays retained history once and emits rename events
var journalRenamesCmd = &cobra.Command{
	Use:   "renames",
	Short: "Replay retained journal history and print correlated rename events",
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := openSession(true)
		if err != nil {
			return err
		}
		defer session.Close()

		db, sessionID, err := openStore(session)
		if err != nil {
			return err
		}
		if db != nil {
			defer db.Close()
		}

		enc := json.NewEncoder(os.Stdout)
		detector := detect.Detector{}
		var events, records int

		for {
			batch, err := session.NextBatch()
			if err != nil {
				return fmt.Errorf("read batch: %w", err)
			}
			if batch.CaughtUp {
				break
			}

			records += len(batch.Records)
			events += len(batch.Events)
			for _, ev := range batch.Events {
				logFinding(detector, session, ev)
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			if db != nil {
				if err := db.InsertEvents(sessionID, batch.Events); err != nil {
					return fmt.Errorf("persist events: %w", err)
				}
			}
		}

		pairing, decode := session.Diagnostics()
		if db != nil {
			if err := db.InsertDiagnostics(sessionID, store.KindUnmatchedNewName, pairing.UnmatchedNewNames); err != nil {
				return fmt.Errorf("persist diagnostics: %w", err)
			}
			if err := db.InsertDiagnostics(sessionID, store.KindUnmatchedOldName, session.PendingOldNames()); err != nil {
				return fmt.Errorf("persist diagnostics: %w", err)
			}
		}

		logger.LogInfo("Journal replay complete", map[string]interface{}{
			"records":             records,
			"rename_events":       events,
			"malformed_records":   decode.Malformed,
			"unmatched_new_names": len(pairing.UnmatchedNewNames),
			"unmatched_old_names": session.PendingCount(),
			"superseded":          pairing.SupersededOldNames,
			"evicted":             pairing.EvictedOldNames,
		})
		return nil
	},
}

// journalMonitorCmd tracks the journal live until interrupted
var journalMonitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Track the journal live, correlating renames as they happen",
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := openSession(config.Instance.Journal.FromStart)
		if err != nil {
			return err
		}
		defer session.Close()

		db, sessionID, err := openStore(session)
		if err != nil {
			return err
		}
		if db != nil {
			defer db.Close()
		}

		if config.Instance.Metrics.Enabled {
			srv := metrics.Serve(config.Instance.Metrics.ListenAddress)
			defer srv.Close()
			logger.LogInfo("Metrics listener started", map[string]interface{}{
				"address": config.Instance.Metrics.ListenAddress,
			})
		}

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(stop)

		interval := config.Instance.Journal.PollInterval
		if interval <= 0 {
			interval = 2 * time.Second
		}

		enc := json.NewEncoder(os.Stdout)
		detector := detect.Detector{}

		logger.LogInfo("Monitoring journal", map[string]interface{}{
			"volume":     config.Instance.Journal.Volume,
			"start_usn":  session.Cursor(),
			"journal_id": fmt.Sprintf("0x%016X", session.Stats().JournalID),
		})

		for {
			batch, err := session.NextBatch()
			switch {
			case errors.Is(err, usn.ErrJournalTruncated), errors.Is(err, usn.ErrJournalIDMismatch):
				logger.LogWarn("Journal continuity lost, resynchronizing", map[string]interface{}{
					"error": err.Error(),
				})
				metrics.BatchesTotal.WithLabelValues("resync").Inc()
				if err := session.Resync(); err != nil {
					return fmt.Errorf("resync: %w", err)
				}
				metrics.Resyncs.Inc()
				continue
			case err != nil:
				metrics.BatchesTotal.WithLabelValues("error").Inc()
				return fmt.Errorf("read batch: %w", err)
			}

			metrics.BatchesTotal.WithLabelValues("ok").Inc()
			metrics.RecordsDecoded.Add(float64(len(batch.Records)))
			metrics.RenameEvents.Add(float64(len(batch.Events)))
			metrics.PendingOldNames.Set(float64(session.PendingCount()))

			for _, ev := range batch.Events {
				logFinding(detector, session, ev)
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			if db != nil && len(batch.Events) > 0 {
				if err := db.InsertEvents(sessionID, batch.Events); err != nil {
					return fmt.Errorf("persist events: %w", err)
				}
			}

			if batch.CaughtUp {
				select {
				case <-stop:
					return finishMonitor(session, db, sessionID)
				case <-time.After(interval):
				}
				continue
			}

			select {
			case <-stop:
				return finishMonitor(session, db, sessionID)
			default:
			}
		}
	},
}

// journalResolveCmd resolves a file reference number to its live path
var journalResolveCmd = &cobra.Command{
	Use:   "resolve <frn>",
	Short: "Resolve a file reference number to its current path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		frn, err := parseFRN(args[0])
		if err != nil {
			return err
		}

		vol, err := usn.OpenVolume(config.Instance.Journal.Volume)
		if err != nil {
			return fmt.Errorf("open volume %s: %w", config.Instance.Journal.Volume, err)
		}
		defer vol.Close()

		path, err := vol.ResolvePath(frn)
		if err != nil {
			return fmt.Errorf("resolve frn %d: %w", frn, err)
		}
		fmt.Println(path)
		return nil
	},
}

// openSession opens the configured volume and starts a tracking session.
func openSession(fromStart bool) (*usn.Session, error) {
	mask := usn.DefaultReasonMask
	if len(config.Instance.Journal.Reasons) > 0 {
		var err error
		mask, err = usn.ParseReasonNames(config.Instance.Journal.Reasons)
		if err != nil {
			return nil, fmt.Errorf("journal.reasons: %w", err)
		}
	}

	vol, err := usn.OpenVolume(config.Instance.Journal.Volume)
	if err != nil {
		return nil, fmt.Errorf("open volume %s: %w", config.Instance.Journal.Volume, err)
	}

	session, err := usn.NewSession(vol, usn.SessionOptions{
		ReasonMask: mask,
		BufferSize: config.Instance.Journal.BufferSize,
		MaxPending: config.Instance.Journal.MaxPending,
		FromStart:  fromStart,
	})
	if err != nil {
		return nil, err
	}

	logger.LogDebug("Session started", map[string]interface{}{
		"volume":     vol.Locator(),
		"journal_id": fmt.Sprintf("0x%016X", session.Stats().JournalID),
		"cursor":     session.Cursor(),
	})
	return session, nil
}

// openStore opens the evidence database when one is configured. A nil store
// means persistence is off.
func openStore(session *usn.Session) (*store.Store, string, error) {
	path := config.Instance.Store.Path
	if path == "" {
		return nil, "", nil
	}

	db, err := store.New(path)
	if err != nil {
		return nil, "", fmt.Errorf("open store %s: %w", path, err)
	}

	sessionID, err := db.BeginSession(config.Instance.Journal.Volume, session.Stats().JournalID)
	if err != nil {
		db.Close()
		return nil, "", fmt.Errorf("begin store session: %w", err)
	}
	return db, sessionID, nil
}

// finishMonitor flushes end-of-session diagnostics and reports totals.
func finishMonitor(session *usn.Session, db *store.Store, sessionID string) error {
	pairing, decode := session.Diagnostics()
	if db != nil {
		if err := db.InsertDiagnostics(sessionID, store.KindUnmatchedNewName, pairing.UnmatchedNewNames); err != nil {
			return fmt.Errorf("persist diagnostics: %w", err)
		}
		if err := db.InsertDiagnostics(sessionID, store.KindUnmatchedOldName, session.PendingOldNames()); err != nil {
			return fmt.Errorf("persist diagnostics: %w", err)
		}
	}

	metrics.UnmatchedNewNames.Add(float64(len(pairing.UnmatchedNewNames)))
	metrics.RecordsMalformed.Add(float64(decode.Malformed))
	logger.LogInfo("Monitoring stopped", map[string]interface{}{
		"decoded_records":     decode.Decoded,
		"malformed_records":   decode.Malformed,
		"unmatched_new_names": len(pairing.UnmatchedNewNames),
		"unmatched_old_names": len(session.PendingOldNames()),
		"superseded":          pairing.SupersededOldNames,
		"evicted":             pairing.EvictedOldNames,
	})
	return nil
}

// logFinding runs the anti-forensics heuristics over one rename event.
func logFinding(detector detect.Detector, session *usn.Session, ev usn.RenameEvent) {
	resolved, err := session.ResolvePath(ev.FileReferenceNumber)
	if err != nil {
		resolved = ""
	}
	finding, suspicious := detector.Inspect(ev, resolved)
	if !suspicious {
		return
	}
	logger.LogWarn("Suspicious rename", map[string]interface{}{
		"old_name":      ev.OldName,
		"new_name":      ev.NewName,
		"frn":           ev.FileReferenceNumber,
		"usn":           ev.Usn,
		"reasons":       strings.Join(finding.Reasons, "; "),
		"resolved_path": resolved,
	})
}

// parseFRN accepts decimal or 0x-prefixed hexadecimal file reference numbers.
func parseFRN(s string) (uint64, error) {
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	frn, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid file reference number %q", s)
	}
	return frn, nil
}

// applyJournalFlags copies explicitly set flags over the loaded config.
func applyJournalFlags(cmd *cobra.Command, args []string) {
	if cmd.Flags().Changed("store") {
		path, _ := cmd.Flags().GetString("store")
		config.Instance.Store.Path = path
	}
	if cmd.Flags().Changed("buffer-size") {
		size, _ := cmd.Flags().GetInt("buffer-size")
		config.Instance.Journal.BufferSize = size
	}
	if cmd.Flags().Changed("poll-interval") {
		interval, _ := cmd.Flags().GetDuration("poll-interval")
		config.Instance.Journal.PollInterval = interval
	}
	if cmd.Flags().Changed("from-start") {
		fromStart, _ := cmd.Flags().GetBool("from-start")
		config.Instance.Journal.FromStart = fromStart
	}
}

func init() {
	journalCmd.AddCommand(journalQueryCmd)
	journalCmd.AddCommand(journalRenamesCmd)
	journalCmd.AddCommand(journalMonitorCmd)
	journalCmd.AddCommand(journalResolveCmd)

	// Store path applies to renames and monitor
	for _, c := range []*cobra.Command{journalRenamesCmd, journalMonitorCmd} {
		c.Flags().String("store", "", "sqlite evidence database path (empty disables persistence)")
		c.Flags().Int("buffer-size", 0, "per-batch read buffer in bytes (0 uses the configured default)")
		c.PreRun = applyJournalFlags
	}

	journalMonitorCmd.Flags().Duration("poll-interval", 0, "backoff between reads once caught up (0 uses the configured default)")
	journalMonitorCmd.Flags().Bool("from-start", false, "replay retained history before tracking live changes")
}
