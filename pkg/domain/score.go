package domain

import "math"

// ComputeScore derives the completion totals for an audit from its items.
// The score is the rounded percentage of conforming answers among answered
// items; it stays nil when nothing was answered.
func ComputeScore(items []AuditItem) (totalQuestions, totalYes, totalNo int, score *int) {
	totalQuestions = len(items)
	for _, item := range items {
		if !item.Answered() {
			continue
		}
		if *item.Answer {
			totalYes++
		} else {
			totalNo++
		}
	}
	answered := totalYes + totalNo
	if answered == 0 {
		return totalQuestions, totalYes, totalNo, nil
	}
	v := int(math.Round(float64(totalYes) / float64(answered) * 100))
	return totalQuestions, totalYes, totalNo, &v
}

// ScoreLevelFor buckets a completion score: >=80 high, 50..79 medium, else low.
func ScoreLevelFor(score int) ScoreLevel {
	switch {
	case score >= 80:
		return ScoreLevelHigh
	case score >= 50:
		return ScoreLevelMedium
	default:
		return ScoreLevelLow
	}
}
