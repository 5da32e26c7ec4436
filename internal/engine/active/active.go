// Package active tracks in-flight chunk fetches for observability
// (spec.md §3 ActiveDownload), keyed by a typed (destination, chunk index)
// pair rather than the teacher's string-concatenation key scheme (spec.md
// §9 explicitly calls out avoiding that).
package active

import (
	"sync"

	"github.com/streampull/streampull/internal/engine/types"
)

// Registry is the engine-wide table of in-flight chunk fetches.
type Registry struct {
	mu      sync.Mutex
	entries map[types.ActiveKey]*types.ActiveDownload
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[types.ActiveKey]*types.ActiveDownload)}
}

// Start records the beginning of a chunk fetch. chunkTotal is 0 when the
// chunk's end is open.
func (r *Registry) Start(key types.ActiveKey, url, path string, chunkTotal int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = &types.ActiveDownload{
		URL:        url,
		Path:       path,
		ChunkIndex: key.ChunkIndex,
		ChunkTotal: chunkTotal,
	}
}

// Update records bytes written so far for an in-flight chunk.
func (r *Registry) Update(key types.ActiveKey, bytesWritten int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		e.BytesWritten = bytesWritten
	}
}

// Remove deletes the entry for key, called when a chunk completes or
// errors.
func (r *Registry) Remove(key types.ActiveKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
}

// Snapshot returns a point-in-time copy of every in-flight chunk.
func (r *Registry) Snapshot() []types.ActiveDownload {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.ActiveDownload, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	return out
}
