// Package download implements FileDownloader: probing a job, planning its
// chunk layout, resuming from any prior StateRecord, driving one
// ChunkFetcher per chunk, and merging the parts into the destination file
// (spec.md §4.6), grounded on the teacher's per-file orchestration in
// internal/engine/concurrent/downloader.go, rebuilt around the spec's
// fixed chunk plan instead of the teacher's dynamic work-stealing queue.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/streampull/streampull/internal/engine/active"
	"github.com/streampull/streampull/internal/engine/auth"
	"github.com/streampull/streampull/internal/engine/fetch"
	"github.com/streampull/streampull/internal/engine/pool"
	"github.com/streampull/streampull/internal/engine/probe"
	"github.com/streampull/streampull/internal/engine/ratelimit"
	"github.com/streampull/streampull/internal/engine/state"
	"github.com/streampull/streampull/internal/engine/types"
	"github.com/streampull/streampull/internal/utils"
)

// Downloader orchestrates a single Job from probe through merge.
type Downloader struct {
	Client  *http.Client
	Pool    *pool.Pool
	Limiter *ratelimit.Limiter
	Auth    *auth.Refresher
	Store   *state.Store
	Active  *active.Registry
	Fetcher *fetch.Fetcher
	Config  types.EngineConfig
}

// New wires a Downloader from the engine's shared components.
func New(cfg types.EngineConfig, client *http.Client, p *pool.Pool, limiter *ratelimit.Limiter, refresher *auth.Refresher, store *state.Store, registry *active.Registry) *Downloader {
	return &Downloader{
		Client:  client,
		Pool:    p,
		Limiter: limiter,
		Auth:    refresher,
		Store:   store,
		Active:  registry,
		Config:  cfg,
		Fetcher: &fetch.Fetcher{
			Client:  client,
			Pool:    p,
			Limiter: limiter,
			Auth:    refresher,
			Active:  registry,
			Config:  cfg,
		},
	}
}

// Download runs Job to completion, retrying the whole job up to
// Config.RetryCount times with 2^attempt backoff on failure (spec.md
// §4.6 Failure). It returns the final file size on success.
func (d *Downloader) Download(ctx context.Context, job types.Job, progress types.ProgressCallback) (int64, error) {
	var lastErr error
	for attempt := 1; attempt <= d.Config.RetryCount; attempt++ {
		n, err := d.attemptJob(ctx, job, progress)
		if err == nil {
			return n, nil
		}
		lastErr = err
		d.Limiter.SignalError(job.SourceURL)

		if errors.Is(err, types.ErrProtocolMismatch) {
			break
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, err
		}

		wait := time.Duration(1<<uint(attempt)) * time.Second
		utils.Debug("download: job %s (%s) attempt %d failed: %v, retrying in %s", job.JobID, job.DestinationPath, attempt, err, wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		case <-timer.C:
		}
	}
	return 0, fmt.Errorf("job %s: %w", job.DestinationPath, lastErr)
}

func (d *Downloader) attemptJob(ctx context.Context, job types.Job, progress types.ProgressCallback) (int64, error) {
	rawURL := job.SourceURL
	if auth.HasPlayToken(rawURL) {
		rawURL = d.Auth.Refresh(ctx, rawURL)
	}

	resumeHint, _ := d.Store.Load(job.DestinationPath)

	probed, err := probe.Head(ctx, d.Client, rawURL, d.Config.UserAgent)
	if err != nil {
		return 0, fmt.Errorf("probing: %w", err)
	}

	chunks, ranged := d.plan(probed)

	resumeFrom := make([]int64, len(chunks))
	if d.Config.EnableResume && resumeHint != nil && resumeHint.SourceURL == job.SourceURL && resumeHint.TotalSize == probed.TotalSize && len(resumeHint.ChunkRanges) == len(chunks) {
		for i := range chunks {
			resumeFrom[i] = resumeHint.PerChunkProgress[i]
		}
	} else if len(chunks) == 1 && !ranged {
		if fi, statErr := os.Stat(job.DestinationPath + ".part0"); statErr == nil {
			resumeFrom[0] = fi.Size()
		}
	}

	record := &types.StateRecord{
		DestinationPath:  job.DestinationPath,
		SourceURL:        job.SourceURL,
		TotalSize:        probed.TotalSize,
		ChunkRanges:      chunks,
		PerChunkProgress: make(map[int]int64, len(chunks)),
		UpdatedAt:        time.Now(),
	}
	for i := range chunks {
		record.PerChunkProgress[i] = resumeFrom[i]
	}

	var recordMu sync.Mutex
	var saveMu sync.Mutex // serializes sibling chunks' saves to the one state file
	persist := func() {
		recordMu.Lock()
		snapshot := *record
		snapshot.UpdatedAt = time.Now()
		snapshot.PerChunkProgress = make(map[int]int64, len(record.PerChunkProgress))
		for k, v := range record.PerChunkProgress {
			snapshot.PerChunkProgress[k] = v
		}
		recordMu.Unlock()
		saveMu.Lock()
		defer saveMu.Unlock()
		if err := d.Store.Save(&snapshot); err != nil {
			utils.Debug("download: state save failed for %s: %v", job.DestinationPath, err)
		}
	}

	filename := filepath.Base(job.DestinationPath)
	var totalWritten sync.Map // chunk index -> int64, for percent aggregation
	startTime := time.Now()

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, len(chunks))

	for i, chunk := range chunks {
		i, chunk := i, chunk
		wg.Add(1)
		go func() {
			defer wg.Done()

			onProgress := func(idx int, written int64) {
				recordMu.Lock()
				record.PerChunkProgress[idx] = written
				recordMu.Unlock()
				totalWritten.Store(idx, written)

				if progress == nil {
					return
				}
				sum := int64(0)
				totalWritten.Range(func(_, v any) bool {
					sum += v.(int64)
					return true
				})
				var percent float64
				if probed.TotalSize > 0 {
					percent = float64(sum) / float64(probed.TotalSize) * 100
				}
				elapsed := time.Since(startTime).Seconds()
				speed := ""
				if elapsed > 0 {
					speed = utils.FormatSpeed(float64(sum) / elapsed)
				}
				progress(types.ProgressUpdate{Filename: filename, Percent: percent, Speed: speed})
			}

			var end *int64
			var start int64
			if ranged {
				end = chunk.End
				start = chunk.Start
			}

			n, err := d.Fetcher.Fetch(fetchCtx, fetch.Task{
				URL:         rawURL,
				Destination: job.DestinationPath,
				Index:       chunk.Index,
				TotalChunks: len(chunks),
				Ranged:      ranged,
				Start:       start,
				End:         end,
				ResumeFrom:  resumeFrom[i],
				OnProgress:  onProgress,
				Persist:     persist,
			})
			if err != nil {
				errs[i] = err
				cancel()
				return
			}
			totalWritten.Store(i, n)
		}()
	}
	wg.Wait()

	for _, e := range errs {
		if e != nil {
			if !d.Config.EnableResume {
				d.removeParts(job.DestinationPath, chunks)
			}
			return 0, e
		}
	}

	size, err := d.merge(job.DestinationPath, chunks, ranged)
	if err != nil {
		return 0, fmt.Errorf("merging: %w", err)
	}

	if err := d.Store.Clear(job.DestinationPath); err != nil {
		utils.Debug("download: state clear failed for %s: %v", job.DestinationPath, err)
	}

	return size, nil
}

// plan decides the chunk layout for a probed job (spec.md §4.6 step 4).
func (d *Downloader) plan(probed *probe.Result) ([]types.Chunk, bool) {
	if d.Config.EnableChunked && probed.SupportsRange && probed.TotalSize > 0 {
		cp := ratelimit.PlanChunks(probed.TotalSize, d.Config.MaxChunksPerFile)
		return cp.Chunks, true
	}
	return []types.Chunk{{Index: 0}}, false
}

func (d *Downloader) removeParts(destination string, chunks []types.Chunk) {
	for _, c := range chunks {
		os.Remove(fmt.Sprintf("%s.part%d", destination, c.Index))
	}
}

// merge concatenates every part file onto the destination in chunk order,
// deleting each part as it is consumed. A single non-ranged chunk is
// renamed directly, needing no merge (spec.md §4.6 step 8).
func (d *Downloader) merge(destination string, chunks []types.Chunk, ranged bool) (int64, error) {
	if !ranged && len(chunks) == 1 {
		partPath := fmt.Sprintf("%s.part%d", destination, 0)
		if err := os.Rename(partPath, destination); err != nil {
			return 0, err
		}
		fi, err := os.Stat(destination)
		if err != nil {
			return 0, err
		}
		return fi.Size(), nil
	}

	out, err := os.OpenFile(destination, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	var total int64
	for _, c := range chunks {
		partPath := fmt.Sprintf("%s.part%d", destination, c.Index)
		in, err := os.Open(partPath)
		if err != nil {
			return 0, fmt.Errorf("opening part %d: %w", c.Index, err)
		}
		n, copyErr := io.Copy(out, in)
		in.Close()
		if copyErr != nil {
			return 0, fmt.Errorf("copying part %d: %w", c.Index, copyErr)
		}
		total += n
		os.Remove(partPath)
	}
	return total, nil
}
