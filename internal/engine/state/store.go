// Package state implements the engine's durable resume checkpoints: one
// JSON file per destination path, written with write-then-rename
// durability, grounded on original_source/download_state.py and adapted to
// the file schema spec.md §6 prescribes.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/streampull/streampull/internal/engine/types"
	"github.com/streampull/streampull/internal/utils"
)

// Store is a file-backed key-value store for StateRecords, keyed by
// destination path.
type Store struct {
	dir string
}

// New returns a Store persisting under dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

// wireRecord is the on-disk JSON shape, independent of the in-memory
// StateRecord representation so the file format stays exactly as spec.md
// §6 prescribes even if the Go type evolves.
type wireRecord struct {
	Filepath         string           `json:"filepath"`
	URL              string           `json:"url"`
	DownloadedChunks map[string]int64 `json:"downloaded_chunks"`
	TotalSize        int64            `json:"total_size"`
	ChunkRanges      [][2]*int64      `json:"chunk_ranges"`
	Timestamp        float64          `json:"timestamp"`
}

func (s *Store) pathFor(destination string) string {
	safe := destination
	safe = strings.ReplaceAll(safe, "/", "_")
	safe = strings.ReplaceAll(safe, "\\", "_")
	safe = strings.ReplaceAll(safe, ":", "_")
	return filepath.Join(s.dir, safe+".state")
}

// Save atomically serializes record to its state file via write-then-rename.
func (s *Store) Save(record *types.StateRecord) error {
	chunks := make(map[string]int64, len(record.PerChunkProgress))
	for idx, n := range record.PerChunkProgress {
		chunks[strconv.Itoa(idx)] = n
	}

	ranges := make([][2]*int64, len(record.ChunkRanges))
	for i, c := range record.ChunkRanges {
		start := c.Start
		ranges[i] = [2]*int64{&start, c.End}
	}

	w := wireRecord{
		Filepath:         record.DestinationPath,
		URL:              record.SourceURL,
		DownloadedChunks: chunks,
		TotalSize:        record.TotalSize,
		ChunkRanges:      ranges,
		Timestamp:        float64(time.Now().UnixNano()) / 1e9,
	}

	data, err := json.Marshal(w)
	if err != nil {
		return err
	}

	path := s.pathFor(record.DestinationPath)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	utils.Debug("state saved for %s (%d chunks)", record.DestinationPath, len(chunks))
	return nil
}

// Load deserializes the state file for destination, returning (nil, nil)
// when the file is missing or fails to parse (spec.md: "State corruption:
// StateRecord fails to parse -> treated as absent").
func (s *Store) Load(destination string) (*types.StateRecord, error) {
	data, err := os.ReadFile(s.pathFor(destination))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nil
	}

	record, ok := decode(data)
	if !ok {
		return nil, nil
	}
	return record, nil
}

// Clear removes the state file if present; a no-op otherwise.
func (s *Store) Clear(destination string) error {
	err := os.Remove(s.pathFor(destination))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ListIncomplete enumerates every parseable state file under the store's
// directory.
func (s *Store) ListIncomplete() ([]*types.StateRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".state") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var records []*types.StateRecord
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		if record, ok := decode(data); ok {
			records = append(records, record)
		}
	}
	return records, nil
}

func decode(data []byte) (*types.StateRecord, bool) {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, false
	}
	if w.Filepath == "" || w.URL == "" || w.DownloadedChunks == nil || w.ChunkRanges == nil {
		return nil, false
	}

	progress := make(map[int]int64, len(w.DownloadedChunks))
	for k, v := range w.DownloadedChunks {
		idx, err := strconv.Atoi(k)
		if err != nil {
			return nil, false
		}
		progress[idx] = v
	}

	ranges := make([]types.Chunk, len(w.ChunkRanges))
	for i, r := range w.ChunkRanges {
		if r[0] == nil {
			return nil, false
		}
		ranges[i] = types.Chunk{Index: i, Start: *r[0], End: r[1]}
	}

	return &types.StateRecord{
		DestinationPath:  w.Filepath,
		SourceURL:        w.URL,
		TotalSize:        w.TotalSize,
		ChunkRanges:      ranges,
		PerChunkProgress: progress,
		UpdatedAt:        time.Unix(0, int64(w.Timestamp*1e9)),
	}, true
}
