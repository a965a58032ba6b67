package policy

import (
	"fmt"
	"math"
)

// DriftReport is the outcome of a drift check over the recent score history.
// InsufficientData distinguishes "not enough samples to judge" from a clean
// no-drift verdict.
type DriftReport struct {
	MethodID         string  `json:"method_id,omitempty"`
	WindowSize       int     `json:"window_size"`
	Threshold        float64 `json:"threshold"`
	Samples          int     `json:"samples"`
	Mean             float64 `json:"mean"`
	StdDev           float64 `json:"std_dev"`
	DriftDetected    bool    `json:"drift_detected"`
	InsufficientData bool    `json:"insufficient_data"`
	Reason           string  `json:"reason"`
}

// DetectDrift inspects the most recent windowSize scores for methodID (all
// methods when methodID is empty) and flags drift when the standard
// deviation exceeds mean·threshold. With fewer than windowSize samples it
// reports insufficient data rather than a false negative.
func (p *Policy) DetectDrift(methodID string, windowSize int, threshold float64) DriftReport {
	report := DriftReport{MethodID: methodID, WindowSize: windowSize, Threshold: threshold}
	if windowSize <= 0 {
		report.InsufficientData = true
		report.Reason = fmt.Sprintf("window size %d is not positive", windowSize)
		return report
	}

	scores := p.recentScores(methodID, windowSize)
	report.Samples = len(scores)
	if len(scores) < windowSize {
		report.InsufficientData = true
		report.Reason = fmt.Sprintf("%d samples recorded, %d required", len(scores), windowSize)
		return report
	}

	report.Mean, report.StdDev = meanStd(scores)
	limit := report.Mean * threshold
	if report.StdDev > limit {
		report.DriftDetected = true
		report.Reason = fmt.Sprintf("std dev %.4f exceeds mean %.4f · threshold %.2f = %.4f",
			report.StdDev, report.Mean, threshold, limit)
	} else {
		report.Reason = fmt.Sprintf("std dev %.4f within mean %.4f · threshold %.2f = %.4f",
			report.StdDev, report.Mean, threshold, limit)
	}
	return report
}

// recentScores copies the last n matching scores under the history lock so
// a concurrent append cannot expose a partially written record.
func (p *Policy) recentScores(methodID string, n int) []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	scores := make([]float64, 0, n)
	for i := len(p.history) - 1; i >= 0 && len(scores) < n; i-- {
		if methodID != "" && p.history[i].MethodID != methodID {
			continue
		}
		scores = append(scores, p.history[i].CalibrationScore)
	}
	// Restore chronological order.
	for i, j := 0, len(scores)-1; i < j; i, j = i+1, j-1 {
		scores[i], scores[j] = scores[j], scores[i]
	}
	return scores
}

func meanStd(scores []float64) (mean, std float64) {
	for _, s := range scores {
		mean += s
	}
	mean /= float64(len(scores))

	var variance float64
	for _, s := range scores {
		d := s - mean
		variance += d * d
	}
	variance /= float64(len(scores))
	return mean, math.Sqrt(variance)
}
