package types

import "fmt"

// CompressionLevel is how aggressively a thread's context is being reduced.
// Levels are ordered; a higher level always includes the reductions of the
// lower ones.
type CompressionLevel int

const (
	// LevelFull sends the log as is.
	LevelFull CompressionLevel = iota

	// LevelTruncate cuts oversized message bodies to head and tail.
	LevelTruncate

	// LevelSlidingWindow prunes old tool results and truncates harder.
	LevelSlidingWindow

	// LevelDeepCompression replaces older turns with a structured summary.
	LevelDeepCompression

	// LevelHandoff means the thread cannot continue and must be handed off.
	LevelHandoff
)

// MaxLevel is the terminal compression level.
const MaxLevel = LevelHandoff

var levelNames = [...]string{
	LevelFull:            "Full Context",
	LevelTruncate:        "Smart Truncation",
	LevelSlidingWindow:   "Sliding Window + Prune",
	LevelDeepCompression: "Deep Compression + Summary",
	LevelHandoff:         "Session Handoff Required",
}

// String returns the display name of the level.
func (l CompressionLevel) String() string {
	if l < LevelFull || l > MaxLevel {
		return fmt.Sprintf("CompressionLevel(%d)", int(l))
	}
	return levelNames[l]
}

// Valid reports whether l is one of the five defined levels.
func (l CompressionLevel) Valid() bool {
	return l >= LevelFull && l <= MaxLevel
}
