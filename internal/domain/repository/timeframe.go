package repository

import "TrapFlow/internal/domain/models"

// DefaultTimeframe returns the timeframe used when none is specified.
func DefaultTimeframe() models.Timeframe { return models.TF1m }

// NormalizeTimeframe converts a raw string to a valid timeframe (or default).
func NormalizeTimeframe(s string) models.Timeframe {
	if s == "" {
		return DefaultTimeframe()
	}
	tf := models.Timeframe(s)
	if tf.IsValid() {
		return tf
	}
	return DefaultTimeframe()
}

// ParseTimeframes filters a list of labels down to valid timeframes,
// preserving order and dropping duplicates.
func ParseTimeframes(labels []string) []models.Timeframe {
	seen := make(map[models.Timeframe]bool, len(labels))
	out := make([]models.Timeframe, 0, len(labels))
	for _, l := range labels {
		tf := models.Timeframe(l)
		if !tf.IsValid() || seen[tf] {
			continue
		}
		seen[tf] = true
		out = append(out, tf)
	}
	return out
}
