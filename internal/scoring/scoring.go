package scoring

import (
	"examguard/internal/model"
)

// Per-event deductions. The backend owns the authoritative weights; this
// mirror exists so live dashboards can show the same number the report
// will. Only the ordering is contractual: higher severity and flagged
// events always cost more.
const (
	deductHigh   = 12.0
	deductMedium = 6.0
	deductLow    = 2.0
	deductFlag   = 10.0
)

func deduction(ev model.ProctorEvent) float64 {
	var d float64
	switch ev.Severity {
	case model.SeverityHigh:
		d = deductHigh
	case model.SeverityMedium:
		d = deductMedium
	default:
		d = deductLow
	}
	if ev.Flagged {
		d += deductFlag
	}
	return d
}

// Score folds an event log into the 0-100 integrity score. Pure function of
// the log: recomputing over the same events always yields the same value.
func Score(events []model.ProctorEvent) float64 {
	score := 100.0
	for _, ev := range events {
		score -= deduction(ev)
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Recommend maps a score to a category. `investigate` is never derived from
// the score alone; it requires a manually escalated flag.
func Recommend(score float64, flags []model.IntegrityFlag) model.Recommendation {
	for _, f := range flags {
		if f.Decision == model.DecisionEscalated {
			return model.RecommendInvestigate
		}
	}
	switch {
	case score >= 80:
		return model.RecommendPass
	case score >= 60:
		return model.RecommendReview
	default:
		return model.RecommendFail
	}
}

// Analyze projects a session's event log and flags into the derived
// aggregate. Never stored authoritatively; always recomputed on demand.
func Analyze(sessionUUID string, events []model.ProctorEvent, flags []model.IntegrityFlag) model.SessionAnalysis {
	byType := make(map[model.EventType]int)
	bySeverity := make(map[model.Severity]int)
	flagged := 0
	for _, ev := range events {
		byType[ev.Type]++
		bySeverity[ev.Severity]++
		if ev.Flagged {
			flagged++
		}
	}
	score := Score(events)
	return model.SessionAnalysis{
		SessionUUID:    sessionUUID,
		TotalEvents:    len(events),
		FlaggedEvents:  flagged,
		ByType:         byType,
		BySeverity:     bySeverity,
		IntegrityScore: score,
		FlagCount:      len(flags),
		Recommendation: Recommend(score, flags),
	}
}
