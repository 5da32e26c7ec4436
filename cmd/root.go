// Package cmd implements the streampull CLI: a cobra root command plus
// get and resume subcommands that drive the download engine headlessly
// against a batch of pre-built jobs, printing progress to stderr, and a
// settings subcommand for settings.yaml (the playlist
// parser and interactive UI are out of scope, supplied by callers), in
// the teacher's cmd/root.go + cmd/get.go style.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/streampull/streampull/internal/config"
	"github.com/streampull/streampull/internal/engine/types"
	"github.com/streampull/streampull/internal/utils"
)

// Version is set via ldflags during build.
var Version = "dev"

var engineFlags types.EngineConfig

// settings holds the loaded settings.yaml for the duration of the run,
// consulted by destination.go as a fallback default download directory the
// way the teacher's handleDownload falls back to
// config.LoadSettings().General.DefaultDownloadDir.
var settings *config.Settings

var rootCmd = &cobra.Command{
	Use:     "streampull",
	Short:   "Concurrent HTTP file downloader for IPTV-style media streams",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.EnsureDirs(); err != nil {
			return fmt.Errorf("preparing state directories: %w", err)
		}
		utils.ConfigureDebug(config.GetLogsDir())
		utils.CleanupLogs(10)

		loaded, err := config.LoadSettings()
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		settings = loaded
		applySettingsDefaults(cmd, settings)
		return nil
	},
}

// applySettingsDefaults seeds any engine flag the caller left at its
// cobra default from settings.yaml, so a saved setting (see
// cmd/settings.go) takes effect without having to be repeated on every
// invocation. An explicit flag on the command line always wins.
func applySettingsDefaults(cmd *cobra.Command, s *config.Settings) {
	flags := cmd.Flags()
	if s.Engine.MaxConnectionsPerHost > 0 && !flags.Changed("max-connections-per-host") {
		engineFlags.MaxConnectionsPerHost = s.Engine.MaxConnectionsPerHost
	}
	if s.Engine.GlobalSpeedLimitBps > 0 && !flags.Changed("speed-limit") {
		engineFlags.MaxSpeedLimitBps = s.Engine.GlobalSpeedLimitBps
	}
}

func init() {
	defaults := types.DefaultEngineConfig()

	rootCmd.PersistentFlags().IntVar(&engineFlags.MaxConcurrentFiles, "max-concurrent-files", defaults.MaxConcurrentFiles, "maximum number of jobs downloaded at once")
	rootCmd.PersistentFlags().IntVar(&engineFlags.MaxChunksPerFile, "max-chunks", defaults.MaxChunksPerFile, "maximum number of parallel byte-range chunks per file")
	rootCmd.PersistentFlags().IntVar(&engineFlags.MaxConnectionsPerHost, "max-connections-per-host", defaults.MaxConnectionsPerHost, "maximum concurrent connections to a single host")
	rootCmd.PersistentFlags().Int64Var(&engineFlags.MaxSpeedLimitBps, "speed-limit", defaults.MaxSpeedLimitBps, "global speed cap in bytes/sec (0 = unlimited)")
	rootCmd.PersistentFlags().BoolVar(&engineFlags.EnableResume, "resume", defaults.EnableResume, "resume partially-downloaded files from saved state")
	rootCmd.PersistentFlags().BoolVar(&engineFlags.EnableChunked, "chunked", defaults.EnableChunked, "split range-capable downloads into parallel chunks")
	rootCmd.PersistentFlags().IntVar(&engineFlags.RetryCount, "retries", defaults.RetryCount, "retry budget for a chunk or a whole job")
	rootCmd.PersistentFlags().StringVar(&engineFlags.UserAgent, "user-agent", defaults.UserAgent, "User-Agent header sent with every request")
}

// Execute runs the root command, exiting the process on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
