package codemapping

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// PathConfig is a persisted mapping as seen by the precedence sorter.
type PathConfig interface {
	PrecedenceKey() (stackRoot string, automaticallyGenerated bool)
}

// SortConfigs orders configs for runtime application, first match wins:
// user-authored before generated, absolute stack roots before relative ones,
// and more specific stack roots before the roots they extend.
//
// configs must be in a stable order (by record id). Records are inserted one
// at a time so equal keys keep that order. A failure part way returns the
// order built so far.
func SortConfigs[T PathConfig](configs []T, logger *slog.Logger) (sorted []T) {
	sorted = make([]T, 0, len(configs))
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.Error("Failed to sort code mappings", "error", fmt.Sprint(r), "sorted", len(sorted))
			}
		}
	}()

	for _, cfg := range configs {
		root, generated := cfg.PrecedenceKey()
		inserted := false
		for i, existing := range sorted {
			existingRoot, existingGenerated := existing.PrecedenceKey()
			sameOrigin := existingGenerated == generated

			if (existingGenerated && !generated) ||
				(sameOrigin && strings.HasPrefix(root, "/") && !strings.HasPrefix(existingRoot, "/")) ||
				(sameOrigin && strings.HasPrefix(root, existingRoot)) {
				sorted = slices.Insert(sorted, i, cfg)
				inserted = true
				break
			}
		}
		if inserted {
			continue
		}
		if generated {
			sorted = append(sorted, cfg)
		} else {
			sorted = slices.Insert(sorted, 0, cfg)
		}
	}
	return sorted
}
