package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/streampull/streampull/internal/config"
	"github.com/streampull/streampull/internal/engine"
	"github.com/streampull/streampull/internal/engine/types"
	"github.com/streampull/streampull/internal/utils"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume every incomplete download found in the state directory",
	Args:  cobra.NoArgs,
	RunE:  runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	lock, ok, err := AcquireLock()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("another streampull instance already holds the state directory lock at %s", config.GetStateDir())
	}
	defer lock.Unlock()

	eng, err := engine.New(engineFlags, config.GetStateDir())
	if err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}

	jobs, err := eng.Scheduler.Jobs()
	if err != nil {
		return fmt.Errorf("listing incomplete downloads: %w", err)
	}
	if len(jobs) == 0 {
		fmt.Fprintln(os.Stderr, "no incomplete downloads found")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// Resumed jobs already carry a concrete destination path recovered
	// from their StateRecord; this is a no-op for them but keeps every
	// entry point consistent with get's directory-destination handling.
	jobs, err = resolveDestinations(ctx, jobs, engineFlags.UserAgent)
	if err != nil {
		return err
	}

	results := eng.Scheduler.Run(ctx, jobs, func(u types.ProgressUpdate) {
		fmt.Fprintf(os.Stderr, "\r%-40s %5.1f%%  %s", u.Filename, u.Percent, u.Speed)
	})
	fmt.Fprintln(os.Stderr)

	failures := 0
	var totalBytes int64
	for _, r := range results {
		if r.Err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "FAILED %s: %v\n", r.Job.DestinationPath, r.Err)
		} else {
			totalBytes += r.Bytes
			fmt.Fprintf(os.Stderr, "OK %s (%s)\n", r.Job.DestinationPath, utils.ConvertBytesToHumanReadable(r.Bytes))
		}
	}
	fmt.Fprintf(os.Stderr, "total: %s downloaded across %d job(s)\n", utils.ConvertBytesToHumanReadable(totalBytes), len(results)-failures)
	if failures > 0 {
		return fmt.Errorf("%d of %d resumed jobs failed", failures, len(results))
	}
	return nil
}
