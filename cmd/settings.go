package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/streampull/streampull/internal/config"
)

var (
	settingsDefaultDownloadDir string
	settingsMaxConnsPerHost    int
	settingsSpeedLimitBps      int64
	settingsAutoResume         bool
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "View or update the persisted defaults in settings.yaml",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the currently saved settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := config.LoadSettings()
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		fmt.Printf("default_download_dir: %q\n", s.General.DefaultDownloadDir)
		fmt.Printf("max_connections_per_host: %d\n", s.Engine.MaxConnectionsPerHost)
		fmt.Printf("global_speed_limit_bps: %d\n", s.Engine.GlobalSpeedLimitBps)
		fmt.Printf("auto_resume: %v\n", s.Engine.AutoResume)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update settings.yaml, preserving any field left unspecified",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := config.LoadSettings()
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}

		flags := cmd.Flags()
		if flags.Changed("default-download-dir") {
			s.General.DefaultDownloadDir = settingsDefaultDownloadDir
		}
		if flags.Changed("max-connections-per-host") {
			s.Engine.MaxConnectionsPerHost = settingsMaxConnsPerHost
		}
		if flags.Changed("speed-limit") {
			s.Engine.GlobalSpeedLimitBps = settingsSpeedLimitBps
		}
		if flags.Changed("auto-resume") {
			s.Engine.AutoResume = settingsAutoResume
		}

		if err := config.SaveSettings(s); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Println("settings saved")
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)

	settingsSetCmd.Flags().StringVar(&settingsDefaultDownloadDir, "default-download-dir", "", "default directory for destinations that name no directory of their own")
	settingsSetCmd.Flags().IntVar(&settingsMaxConnsPerHost, "max-connections-per-host", 0, "default max connections per host")
	settingsSetCmd.Flags().Int64Var(&settingsSpeedLimitBps, "speed-limit", 0, "default global speed cap in bytes/sec")
	settingsSetCmd.Flags().BoolVar(&settingsAutoResume, "auto-resume", false, "auto_resume value stored in settings.yaml (no command acts on it)")
}
