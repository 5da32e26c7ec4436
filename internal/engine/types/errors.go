package types

import "errors"

// ErrProtocolMismatch is fatal for a Job: the server returned 200 to a
// range request on a chunk other than the first, meaning it cannot satisfy
// the planned multi-range layout (spec.md §7).
var ErrProtocolMismatch = errors.New("server returned 200 to a ranged request on a non-first chunk")

// ErrCancelled names a cancelled download. Fetchers and downloaders do not
// return it: a cancelled context surfaces as the context's own error
// (context.Canceled or context.DeadlineExceeded).
var ErrCancelled = errors.New("download cancelled")

// ErrRangeNotSupported names a server that declines range requests. The
// HEAD probe does not return it: probe.Result reports SupportsRange=false
// instead, and FileDownloader falls back to a single chunk.
var ErrRangeNotSupported = errors.New("server does not support range requests")
