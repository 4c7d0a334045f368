// Package score computes the 0-100 threat score from aggregate signals.
// The scorer is a pure function of its inputs; identical inputs always
// produce the identical score.
package score

import "math"

// Label is the risk band displayed next to the score.
type Label string

const (
	LabelHigh   Label = "High Risk"
	LabelMedium Label = "Medium Risk"
	LabelLow    Label = "Low Risk"
)

// Band boundaries are a contract with every consumer of the score:
// score >= 70 is High Risk, 40 <= score < 70 is Medium Risk, below is Low.
const (
	highThreshold   = 70
	mediumThreshold = 40
)

// Weights holds the scoring weights and saturation knees. Weights are
// expressed in score points and should sum to 100; a knee is the input
// value at which that signal reaches half strength.
type Weights struct {
	Incident  float64
	Critical  float64
	Unblocked float64
	Rate      float64

	IncidentKnee float64
	CriticalKnee float64
	RateKnee     float64
}

// DefaultWeights returns the default scoring parameters.
func DefaultWeights() Weights {
	return Weights{
		Incident:     40,
		Critical:     35,
		Unblocked:    15,
		Rate:         10,
		IncidentKnee: 4,
		CriticalKnee: 8,
		RateKnee:     2,
	}
}

// Inputs are the aggregate signals the score is derived from.
type Inputs struct {
	CriticalAlerts  int
	ActiveIncidents int
	BlockedRatio    float64 // blocked / windowed total, in [0,1]
	EventRate       float64 // events per second over the rate window
}

// Score maps the aggregate signals to a score in [0,100] and its label.
// Each count passes through the saturating x/(x+k) curve so the score
// degrades gracefully instead of clipping at the first bad signal.
func Score(in Inputs, w Weights) (int, Label) {
	blocked := clamp01(in.BlockedRatio)

	raw := w.Incident*saturate(float64(in.ActiveIncidents), w.IncidentKnee) +
		w.Critical*saturate(float64(in.CriticalAlerts), w.CriticalKnee) +
		w.Unblocked*(1-blocked) +
		w.Rate*saturate(in.EventRate, w.RateKnee)

	s := int(math.Round(raw))
	if s < 0 {
		s = 0
	}
	if s > 100 {
		s = 100
	}

	return s, LabelFor(s)
}

// LabelFor returns the risk band for a score.
func LabelFor(score int) Label {
	switch {
	case score >= highThreshold:
		return LabelHigh
	case score >= mediumThreshold:
		return LabelMedium
	default:
		return LabelLow
	}
}

// saturate maps a non-negative value to [0,1) via x/(x+k).
func saturate(x, knee float64) float64 {
	if x <= 0 {
		return 0
	}
	if knee <= 0 {
		return 1
	}
	return x / (x + knee)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
