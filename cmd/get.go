package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/streampull/streampull/internal/config"
	"github.com/streampull/streampull/internal/engine"
	"github.com/streampull/streampull/internal/engine/types"
	"github.com/streampull/streampull/internal/utils"
)

var getCmd = &cobra.Command{
	Use:   "get <jobs-file>",
	Short: "Download every (url, destination) job listed in jobs-file",
	Long: `Reads a batch of jobs from jobs-file and downloads them concurrently.

jobs-file is either a JSON array of {"url":..., "destination":...} objects,
or plain text with one "URL<TAB>destination" pair per line (blank lines and
lines starting with # are skipped). Producing that list — e.g. by parsing
a playlist — is the caller's responsibility.`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)
}

func readJobs(path string) ([]types.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading jobs file: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var raw []struct {
			URL         string `json:"url"`
			Destination string `json:"destination"`
		}
		if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
			return nil, fmt.Errorf("parsing JSON jobs file: %w", err)
		}
		jobs := make([]types.Job, 0, len(raw))
		for _, r := range raw {
			jobs = append(jobs, types.Job{SourceURL: r.URL, DestinationPath: r.Destination})
		}
		return jobs, nil
	}

	var jobs []types.Job
	scanner := bufio.NewScanner(strings.NewReader(trimmed))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed job line (want URL<TAB>destination): %q", line)
		}
		jobs = append(jobs, types.Job{SourceURL: strings.TrimSpace(parts[0]), DestinationPath: strings.TrimSpace(parts[1])})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading jobs file: %w", err)
	}
	return jobs, nil
}

func runGet(cmd *cobra.Command, args []string) error {
	jobs, err := readJobs(args[0])
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return fmt.Errorf("no jobs found in %s", args[0])
	}

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nshutting down, finishing in-flight writes...")
		cancel()
	}()

	jobs, err = resolveDestinations(ctx, jobs, engineFlags.UserAgent)
	if err != nil {
		return err
	}

	results := eng.Scheduler.Run(ctx, jobs, func(u types.ProgressUpdate) {
		if u.Speed != "" {
			fmt.Fprintf(os.Stderr, "\r%-40s %5.1f%%  %s", u.Filename, u.Percent, u.Speed)
		} else {
			fmt.Fprintf(os.Stderr, "\r%-40s %5.1f%%", u.Filename, u.Percent)
		}
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
		return fmt.Errorf("%d of %d jobs failed", failures, len(results))
	}
	return nil
}
