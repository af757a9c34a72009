package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/forensichub/usnwatch/internal/config"
	"github.com/forensichub/usnwatch/internal/logger"
)

var cfgFile string

// rootCmd represents the base CLI command
var rootCmd = &cobra.Command{
	Use:   "usnwatch",
	Short: "Track NTFS change journal activity and reconstruct rename events",
	Long: `usnwatch opens a volume's NTFS update sequence number (USN) change
journal, decodes its raw record stream and pairs RENAME_OLD_NAME /
RENAME_NEW_NAME record halves into reconstructed rename events.

The correlated events feed anti-forensics analysis: a file's prior
name and location often survive in the journal long after the file
itself has been disguised. Rename events can be streamed, persisted
to a sqlite evidence store and exported as reports.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// CLI flags can override config settings
		debug, _ := cmd.Flags().GetBool("debug")
		logFormat, _ := cmd.Flags().GetString("log-format")
		volume, _ := cmd.Flags().GetString("volume")

		// If CLI flags were explicitly provided, update the global config
		if cmd.Flags().Changed("debug") {
			config.Instance.Debug = debug
		}

		if cmd.Flags().Changed("log-format") {
			config.Instance.LogFormat = logFormat
		}

		if cmd.Flags().Changed("volume") {
			config.Instance.Journal.Volume = volume
		}

		// If config file was explicitly specified via flag, reinitialize
		if cmd.Flags().Changed("config") && cfgFile != "" {
			// Only log an error, don't exit, as the config may still be usable
			if err := config.Initialize(cfgFile); err != nil {
				logger.LogError("Error loading config file", err, map[string]interface{}{
					"config_file": cfgFile,
				})
			}
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.LogError("Command execution failed", err, nil)
		// Let Cobra handle the exit
	}
}

func init() {
	// Config file flag
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is search in standard locations)")

	// Debug flag
	rootCmd.PersistentFlags().Bool("debug", config.Instance.Debug, "Enable debug logging")

	// Log format flag
	rootCmd.PersistentFlags().String("log-format", config.Instance.LogFormat, "Log format: json or human")

	// Volume flag
	rootCmd.PersistentFlags().String("volume", config.Instance.Journal.Volume, "Volume locator whose change journal is read")

	// Bind flags to viper settings
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("journal.volume", rootCmd.PersistentFlags().Lookup("volume"))

	// Add subcommands
	rootCmd.AddCommand(journalCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd shows the application version
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("usnwatch v0.1.0") // Replace with actual version
	},
}
