package score

import "math"

type Tier string

const (
	TierLow      Tier = "low"
	TierModerate Tier = "moderate"
	TierHigh     Tier = "high"
)

const (
	highThreshold     = 0.8
	moderateThreshold = 0.4
)

type Verdict struct {
	Tier        Tier   `json:"tier"`
	Percentage  int    `json:"percentage"`
	Label       string `json:"label"`
	Explanation string `json:"explanation"`
}

const (
	explainHigh = "The model is highly confident this content matches patterns of AI-generated or manipulated faces. " +
		"Treat it as suspicious and verify it through trusted channels."
	explainModerate = "The model detects some anomalies that may indicate manipulation. " +
		"Review carefully and cross-check this media before using it for important decisions."
	explainLow = "The model does not detect strong signs of manipulation. " +
		"Still, no detector is perfect, so stay cautious with high-impact or sensitive content."
)

// Classify maps a risk onto a tier. Lower bounds are inclusive.
func Classify(risk Risk) Verdict {
	r := float64(clamp(float64(risk)))
	pct := int(math.Round(r * 100))

	switch {
	case r >= highThreshold:
		return Verdict{Tier: TierHigh, Percentage: pct, Label: "Likely manipulated", Explanation: explainHigh}
	case r >= moderateThreshold:
		return Verdict{Tier: TierModerate, Percentage: pct, Label: "Needs review", Explanation: explainModerate}
	default:
		return Verdict{Tier: TierLow, Percentage: pct, Label: "Likely authentic", Explanation: explainLow}
	}
}
