package cmd

import (
	"github.com/streampull/streampull/internal/config"
	"github.com/streampull/streampull/internal/engine/state"
)

// AcquireLock guards the Non-goal that multiple engine instances writing
// the same destination are undefined: it refuses to hand back ok=true if
// another streampull process already holds the state directory's advisory
// lock (spec.md §1, §9; internal/engine/state.Lock).
func AcquireLock() (*state.InstanceLock, bool, error) {
	if err := config.EnsureDirs(); err != nil {
		return nil, false, err
	}
	return state.Lock(config.GetStateDir())
}
