package tabsync

import (
	"encoding/json"
	"fmt"
)

// MigrateFunc upgrades persisted state from one version to the next.
type MigrateFunc func(state json.RawMessage) (json.RawMessage, error)

// Migration upgrades persisted state written at version From to From+1.
type Migration struct {
	From    int
	Migrate MigrateFunc
}

// migrate walks the registered migrations from version to target.
// It fails if a step is missing, so stale state is discarded rather than
// misread.
func migrate(migrations []Migration, state json.RawMessage, version, target int) (json.RawMessage, error) {
	if version == target {
		return state, nil
	}
	if version > target {
		return nil, fmt.Errorf("tabsync: persisted version %d is newer than %d", version, target)
	}

	steps := make(map[int]MigrateFunc, len(migrations))
	for _, m := range migrations {
		if m.Migrate != nil {
			steps[m.From] = m.Migrate
		}
	}

	current := state
	for v := version; v < target; v++ {
		step, ok := steps[v]
		if !ok {
			return nil, fmt.Errorf("tabsync: no migration from version %d", v)
		}
		next, err := step(current)
		if err != nil {
			return nil, fmt.Errorf("tabsync: migrate from version %d: %w", v, err)
		}
		current = next
	}
	return current, nil
}
