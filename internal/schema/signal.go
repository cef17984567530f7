package schema

// TradeSignal is the output of a strategy evaluation. Signals with
// confidence at or below 0.5 are discarded by the engine.
type TradeSignal struct {
	TokenID     string  `json:"token_id"`
	Side        Side    `json:"side"`
	Confidence  float64 `json:"confidence"`
	TargetPrice float64 `json:"target_price"`
	Size        float64 `json:"size"`
	Reason      string  `json:"reason"`
}

// Actionable reports whether the signal clears the engine's confidence gate.
func (s TradeSignal) Actionable() bool {
	return s.Confidence > 0.5
}
