package state

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// InstanceLock guards the Non-goal that multiple engine instances writing
// the same destination are undefined: an engine refuses to start against a
// state directory another process already holds, in the teacher's
// cmd/lock.go style.
type InstanceLock struct {
	flock *flock.Flock
}

// Lock attempts to acquire the advisory lock over dir. ok is false (with a
// nil error) when another process already holds it.
func Lock(dir string) (lock *InstanceLock, ok bool, err error) {
	path := filepath.Join(dir, "engine.lock")
	fl := flock.New(path)

	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("acquiring instance lock: %w", err)
	}
	if !locked {
		return nil, false, nil
	}
	return &InstanceLock{flock: fl}, true, nil
}

// Unlock releases the lock, if held.
func (l *InstanceLock) Unlock() error {
	if l == nil || l.flock == nil {
		return nil
	}
	return l.flock.Unlock()
}
