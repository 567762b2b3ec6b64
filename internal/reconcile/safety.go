package reconcile

import (
	"errors"
	"log/slog"
)

// SafetyConfig controls big-delete protection thresholds.
type SafetyConfig struct {
	BigDeleteMinItems   int     // last-sync index must have at least this many assets before the check applies
	BigDeleteMaxCount   int     // max number of planned deletions before triggering
	BigDeleteMaxPercent float64 // max percentage of last-sync assets being deleted
}

// Named constants for safety defaults (avoids mnd lint).
const (
	defaultBigDeleteMinItems   = 10
	defaultBigDeleteMaxCount   = 1000
	defaultBigDeleteMaxPercent = 50.0
	percentMultiplier          = 100.0
)

// DefaultSafetyConfig returns a SafetyConfig with sensible defaults:
// min 10 items, max 1000 deletes, max 50% of the last-sync index.
func DefaultSafetyConfig() *SafetyConfig {
	return &SafetyConfig{
		BigDeleteMinItems:   defaultBigDeleteMinItems,
		BigDeleteMaxCount:   defaultBigDeleteMaxCount,
		BigDeleteMaxPercent: defaultBigDeleteMaxPercent,
	}
}

// ErrBigDeleteTriggered indicates that the planned number of deletions
// exceeds safety thresholds. The sync pass should halt and require user
// confirmation before proceeding: a stale index or a transiently empty
// remote listing reads as "everything deleted on the other side", and
// without this check Apply would carry those deletions out.
var ErrBigDeleteTriggered = errors.New("reconcile: big-delete protection triggered")

// CheckSafety returns ErrBigDeleteTriggered when cs's planned del_local and
// del_remote operations exceed config's thresholds relative to the last-sync
// index. A nil config uses DefaultSafetyConfig. Callers run this between
// Analyze and Apply; an operator overrides it by supplying thresholds high
// enough to never trigger.
func (r *Reconciler) CheckSafety(cs *ChangeSet, last Index, config *SafetyConfig) error {
	if config == nil {
		config = DefaultSafetyConfig()
	}

	deleteCount := len(cs.entries[ActionDelLocal]) + len(cs.entries[ActionDelRemote])

	if !bigDeleteTriggered(deleteCount, len(last), config) {
		return nil
	}

	r.logger.Warn("big-delete protection triggered",
		slog.Int("delete_count", deleteCount),
		slog.Int("last_index_count", len(last)),
		slog.Int("max_count", config.BigDeleteMaxCount),
		slog.Float64("max_percent", config.BigDeleteMaxPercent),
	)

	return ErrBigDeleteTriggered
}

func bigDeleteTriggered(deleteCount, lastCount int, config *SafetyConfig) bool {
	// Below minimum items threshold — big-delete check does not apply.
	if lastCount < config.BigDeleteMinItems {
		return false
	}

	if deleteCount > config.BigDeleteMaxCount {
		return true
	}

	percentage := float64(deleteCount) / float64(lastCount) * percentMultiplier

	return percentage > config.BigDeleteMaxPercent
}
