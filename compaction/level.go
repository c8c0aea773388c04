package compaction

import (
	"math"

	"github.com/youssefsiam38/agentctx/types"
)

// Usage ratio breakpoints between compression levels.
const (
	TruncateRatio = 0.5
	SlidingRatio  = 0.7
	DeepRatio     = 0.85
	HandoffRatio  = 0.95
)

// LevelForRatio maps a context usage ratio to the compression level it calls
// for. Negative and NaN ratios are treated as zero.
func LevelForRatio(ratio float64) types.CompressionLevel {
	if math.IsNaN(ratio) || ratio < 0 {
		ratio = 0
	}
	switch {
	case ratio < TruncateRatio:
		return types.LevelFull
	case ratio < SlidingRatio:
		return types.LevelTruncate
	case ratio < DeepRatio:
		return types.LevelSlidingWindow
	case ratio < HandoffRatio:
		return types.LevelDeepCompression
	default:
		return types.LevelHandoff
	}
}

// NameOf returns the display name of level.
func NameOf(level types.CompressionLevel) string {
	return level.String()
}
