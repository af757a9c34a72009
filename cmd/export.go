package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/forensichub/usnwatch/internal/config"
	"github.com/forensichub/usnwatch/internal/export"
	"github.com/forensichub/usnwatch/internal/logger"
	"github.com/forensichub/usnwatch/internal/store"
)

var exportSessionID string

// exportCmd writes a stored session's findings as a report file
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a recorded session's rename events as a report",
	Long: `export reads a tracking session from the sqlite evidence store and
writes its rename events and pairing diagnostics as a JSON-lines report,
optionally xz-compressed. Without --session the most recent session is
exported.`,
	PreRun: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("store") {
			path, _ := cmd.Flags().GetString("store")
			config.Instance.Store.Path = path
		}
		if cmd.Flags().Changed("output") {
			out, _ := cmd.Flags().GetString("output")
			config.Instance.Export.Path = out
		}
		if cmd.Flags().Changed("compress") {
			compress, _ := cmd.Flags().GetBool("compress")
			config.Instance.Export.Compress = compress
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.Instance.Store.Path
		if path == "" {
			return fmt.Errorf("no evidence store configured; set store.path or --store")
		}

		db, err := store.New(path)
		if err != nil {
			return fmt.Errorf("open store %s: %w", path, err)
		}
		defer db.Close()

		info, err := db.Session(exportSessionID)
		if err != nil {
			return err
		}

		events, err := db.SessionEvents(info.ID)
		if err != nil {
			return err
		}
		unmatchedNew, err := db.SessionDiagnostics(info.ID, store.KindUnmatchedNewName)
		if err != nil {
			return err
		}
		unmatchedOld, err := db.SessionDiagnostics(info.ID, store.KindUnmatchedOldName)
		if err != nil {
			return err
		}

		report := export.Report{
			Volume:            info.Volume,
			JournalID:         info.JournalID,
			GeneratedAt:       time.Now().UTC(),
			Events:            events,
			UnmatchedNewNames: unmatchedNew,
			UnmatchedOldNames: unmatchedOld,
		}

		writer := export.NewWriter(nil, config.Instance.Export.Compress)
		written, err := writer.Write(config.Instance.Export.Path, report)
		if err != nil {
			return fmt.Errorf("write report: %w", err)
		}

		logger.LogInfo("Report written", map[string]interface{}{
			"path":                written,
			"session":             info.ID,
			"events":              len(events),
			"unmatched_new_names": len(unmatchedNew),
			"unmatched_old_names": len(unmatchedOld),
		})
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportSessionID, "session", "", "session id to export (default latest)")
	exportCmd.Flags().String("store", "", "sqlite evidence database path")
	exportCmd.Flags().StringP("output", "o", "", "report output path")
	exportCmd.Flags().Bool("compress", false, "xz-compress the report")
}
