package compaction

// TokenBudget describes how many tokens a single request may use.
type TokenBudget struct {
	// ContextLimit is the model's maximum context window.
	ContextLimit int

	// OutputReserve is held back for the model's reply.
	OutputReserve int

	// TargetRatio leaves headroom below the context limit.
	TargetRatio float64
}

// Usable returns ContextLimit*TargetRatio - OutputReserve, never less than 1.
func (b TokenBudget) Usable() int {
	usable := int(float64(b.ContextLimit)*b.TargetRatio) - b.OutputReserve
	if usable < 1 {
		return 1
	}
	return usable
}

// Ratio returns tokens as a fraction of the usable budget.
func (b TokenBudget) Ratio(tokens int) float64 {
	return float64(tokens) / float64(b.Usable())
}

// Fits reports whether tokens stays within the target ratio of the usable budget.
func (b TokenBudget) Fits(tokens int) bool {
	return b.Ratio(tokens) <= b.TargetRatio
}
