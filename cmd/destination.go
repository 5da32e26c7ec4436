package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/streampull/streampull/internal/engine/probe"
	"github.com/streampull/streampull/internal/engine/types"
	"github.com/streampull/streampull/internal/utils"
)

// filenameClient is a short-lived client used only to probe a job's URL for
// filename inference before the engine's own tuned transport takes over;
// it is independent of the engine so a filename probe never counts
// against the engine's connection pool.
var filenameClient = &http.Client{Timeout: types.ProbeTimeout}

// needsDestinationFilename reports whether dest names a directory rather
// than a concrete file path: empty, a trailing separator, or an existing
// directory on disk.
func needsDestinationFilename(dest string) bool {
	if dest == "" {
		return true
	}
	if strings.HasSuffix(dest, "/") || strings.HasSuffix(dest, string(os.PathSeparator)) {
		return true
	}
	if fi, err := os.Stat(dest); err == nil && fi.IsDir() {
		return true
	}
	return false
}

// resolveDestinations fills in a concrete filename for any job whose
// destination names only a directory, probing the source URL and
// inferring a filename from its Content-Disposition header, query
// parameters, URL path, or a content sniff of the probe's leading bytes
// (internal/utils.DetermineFilename), in that priority order.
func resolveDestinations(ctx context.Context, jobs []types.Job, userAgent string) ([]types.Job, error) {
	out := make([]types.Job, len(jobs))
	copy(out, jobs)

	for i, job := range out {
		if !needsDestinationFilename(job.DestinationPath) {
			continue
		}

		dir := job.DestinationPath
		if dir == "" {
			if settings != nil && settings.General.DefaultDownloadDir != "" {
				dir = settings.General.DefaultDownloadDir
			} else {
				dir = "."
			}
		}

		probeCtx, cancel := context.WithTimeout(ctx, types.ProbeTimeout)
		probed, err := probe.Head(probeCtx, filenameClient, job.SourceURL, userAgent)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("probing %s to infer a filename: %w", job.SourceURL, err)
		}

		resp := &http.Response{Header: probed.Header}
		name, err := utils.DetermineFilename(job.SourceURL, resp, probed.Peek, false)
		if err != nil {
			return nil, fmt.Errorf("determining filename for %s: %w", job.SourceURL, err)
		}

		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating destination directory %s: %w", dir, err)
		}
		out[i].DestinationPath = filepath.Join(dir, name)
		utils.Debug("destination: %s -> %s", job.SourceURL, out[i].DestinationPath)
	}

	return out, nil
}
