// Package probe issues the HEAD request FileDownloader uses to discover a
// job's total size and range support before planning chunks (spec.md
// §4.6 step 3), grounded on the teacher's engine probe but switched from a
// ranged GET to a plain HEAD per spec.
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/streampull/streampull/internal/utils"
)

// peekSize is how many leading body bytes Head retains for callers that
// need to sniff content type (e.g. filename inference); most HEAD
// responses carry no body at all, in which case Peek is empty.
const peekSize = 512

// Result is everything FileDownloader needs to plan a job's chunk layout,
// plus enough of the response to let a caller infer a destination filename
// without issuing a second request.
type Result struct {
	TotalSize     int64
	SupportsRange bool
	Header        http.Header
	Peek          []byte
}

// Head sends a HEAD request and reports Content-Length and whether
// Accept-Ranges advertises byte ranges. A missing or non-"bytes"
// Accept-Ranges header means the server does not support range requests.
func Head(ctx context.Context, client *http.Client, rawURL, userAgent string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building probe request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe request: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("probe returned status %d", resp.StatusCode)
	}

	peek := make([]byte, peekSize)
	n, _ := io.ReadFull(resp.Body, peek)

	result := &Result{
		SupportsRange: resp.Header.Get("Accept-Ranges") == "bytes",
		Header:        resp.Header,
		Peek:          peek[:n],
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			result.TotalSize = n
		}
	}

	utils.Debug("probe %s: size=%d range=%v", rawURL, result.TotalSize, result.SupportsRange)
	return result, nil
}
