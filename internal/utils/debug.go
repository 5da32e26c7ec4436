package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

var (
	debugOnce sync.Once
	debugMu   sync.Mutex
	debugFile *os.File
	debugDir  string
)

// ConfigureDebug sets the directory debug logs are written to. Must be
// called before the first Debug call to take effect; Debug falls back to
// the OS temp dir if it is never called.
func ConfigureDebug(dir string) {
	debugMu.Lock()
	defer debugMu.Unlock()
	debugDir = dir
	if debugFile != nil {
		debugFile.Close()
		debugFile = nil
	}
	debugOnce = sync.Once{}
}

// Debug appends a timestamped, formatted line to the current debug log
// file, opening it lazily on first use.
func Debug(format string, args ...any) {
	debugOnce.Do(openDebugFile)

	debugMu.Lock()
	defer debugMu.Unlock()
	if debugFile == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(debugFile, "%s %s\n", time.Now().Format("2006-01-02 15:04:05.000"), msg)
}

func openDebugFile() {
	debugMu.Lock()
	defer debugMu.Unlock()

	dir := debugDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return
	}

	name := fmt.Sprintf("debug-%s.log", time.Now().Format("20060102-150405"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	debugFile = f
}

// CleanupLogs deletes all but the `keep` newest debug-*.log files in the
// configured debug directory.
func CleanupLogs(keep int) {
	debugMu.Lock()
	dir := debugDir
	debugMu.Unlock()
	if dir == "" {
		dir = os.TempDir()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var logs []os.DirEntry
	for _, e := range entries {
		name := e.Name()
		if len(name) > len("debug-") && name[:len("debug-")] == "debug-" {
			logs = append(logs, e)
		}
	}
	if len(logs) <= keep {
		return
	}

	sort.Slice(logs, func(i, j int) bool { return logs[i].Name() < logs[j].Name() })

	toRemove := logs[:len(logs)-keep]
	for _, e := range toRemove {
		os.Remove(filepath.Join(dir, e.Name()))
	}
}
