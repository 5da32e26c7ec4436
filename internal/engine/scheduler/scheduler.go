// Package scheduler implements BatchScheduler: driving N jobs concurrently
// and aggregating per-job results without letting one job's failure cancel
// its siblings (spec.md §4.7), grounded on the teacher's batch-runner
// pattern in cmd/get.go, generalized from a single progress channel to the
// spec's per-job DownloadResult slice.
package scheduler

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/streampull/streampull/internal/engine/active"
	"github.com/streampull/streampull/internal/engine/download"
	"github.com/streampull/streampull/internal/engine/ratelimit"
	"github.com/streampull/streampull/internal/engine/state"
	"github.com/streampull/streampull/internal/engine/types"
	"github.com/streampull/streampull/internal/utils"
)

// Scheduler drives a batch of Jobs, bounded by MaxConcurrentFiles.
type Scheduler struct {
	Downloader *download.Downloader
	Limiter    *ratelimit.Limiter
	Active     *active.Registry
	Store      *state.Store
	Config     types.EngineConfig
}

// New returns a Scheduler built from the engine's shared components.
func New(cfg types.EngineConfig, dl *download.Downloader, limiter *ratelimit.Limiter, registry *active.Registry, store *state.Store) *Scheduler {
	return &Scheduler{Downloader: dl, Limiter: limiter, Active: registry, Store: store, Config: cfg}
}

// Run launches every Job, bounded by Config.MaxConcurrentFiles, and awaits
// completion of all of them. One job's failure is captured in its own
// DownloadResult and never cancels the others (spec.md §4.7).
func (s *Scheduler) Run(ctx context.Context, jobs []types.Job, progress types.ProgressCallback) []types.DownloadResult {
	results := make([]types.DownloadResult, len(jobs))
	sem := make(chan struct{}, max(1, s.Config.MaxConcurrentFiles))

	var wg sync.WaitGroup
	for i, job := range jobs {
		i, job := i, job
		if job.JobID == "" {
			job.JobID = uuid.New().String()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = types.DownloadResult{Job: job, Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			utils.Debug("scheduler: job %s starting (%s)", job.JobID, job.DestinationPath)
			n, err := s.Downloader.Download(ctx, job, progress)
			if err != nil {
				utils.Debug("scheduler: job %s failed: %v", job.JobID, err)
			} else {
				utils.Debug("scheduler: job %s complete (%d bytes)", job.JobID, n)
			}
			results[i] = types.DownloadResult{Job: job, Bytes: n, Err: err}
		}()
	}
	wg.Wait()

	return results
}

// ResumeIncomplete reconstructs Job tuples from every on-disk StateRecord
// and runs them through Run, supplementing spec.md with the Python
// original's DownloadManager.resume_all_downloads (SPEC_FULL.md §4).
func (s *Scheduler) ResumeIncomplete(ctx context.Context, progress types.ProgressCallback) ([]types.DownloadResult, error) {
	jobs, err := s.Jobs()
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, jobs, progress), nil
}

// Jobs reconstructs the Job list implied by every on-disk StateRecord,
// without running them.
func (s *Scheduler) Jobs() ([]types.Job, error) {
	records, err := s.Store.ListIncomplete()
	if err != nil {
		return nil, err
	}
	jobs := make([]types.Job, 0, len(records))
	for _, r := range records {
		jobs = append(jobs, types.Job{SourceURL: r.SourceURL, DestinationPath: r.DestinationPath})
	}
	return jobs, nil
}

// ActiveDownloadSummary folds per-chunk ActiveDownload entries into one
// per-destination aggregate (spec.md §4.7).
type ActiveDownloadSummary struct {
	DestinationPath string
	BytesWritten    int64
	MaxSpeed        float64
}

// GetActiveDownloads aggregates the registry's per-chunk entries by
// destination path, summing bytes written and reporting the maximum
// observed rolling-average speed across the job's chunk URLs.
func (s *Scheduler) GetActiveDownloads() []ActiveDownloadSummary {
	byPath := make(map[string]*ActiveDownloadSummary)
	order := make([]string, 0)

	for _, d := range s.Active.Snapshot() {
		sum, ok := byPath[d.Path]
		if !ok {
			sum = &ActiveDownloadSummary{DestinationPath: d.Path}
			byPath[d.Path] = sum
			order = append(order, d.Path)
		}
		sum.BytesWritten += d.BytesWritten
		if speed := s.Limiter.AverageSpeed(d.URL); speed > sum.MaxSpeed {
			sum.MaxSpeed = speed
		}
	}

	out := make([]ActiveDownloadSummary, 0, len(order))
	for _, path := range order {
		out = append(out, *byPath[path])
	}
	return out
}
