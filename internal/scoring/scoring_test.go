package scoring

import (
	"reflect"
	"testing"
	"time"

	"examguard/internal/model"
)

func ev(t model.EventType, sev model.Severity, flagged bool) model.ProctorEvent {
	return model.ProctorEvent{
		SessionUUID: "sess-1",
		Type:        t,
		Severity:    sev,
		Flagged:     flagged,
		Timestamp:   time.Now().UTC(),
	}
}

func TestCleanSessionScoresPerfect(t *testing.T) {
	if got := Score(nil); got != 100 {
		t.Fatalf("empty log should score 100, got %v", got)
	}
	a := Analyze("sess-1", nil, nil)
	if a.IntegrityScore != 100 || a.Recommendation != model.RecommendPass {
		t.Fatalf("clean session must pass: %+v", a)
	}
}

func TestSingleFlaggedHighSeverityForcesReview(t *testing.T) {
	events := []model.ProctorEvent{ev(model.EventMultipleFaces, model.SeverityHigh, true)}
	score := Score(events)
	if score >= 80 {
		t.Fatalf("one flagged high-severity event must drop score below 80, got %v", score)
	}
	rec := Recommend(score, nil)
	if rec == model.RecommendPass {
		t.Fatalf("expected review or worse, got %s", rec)
	}
}

func TestSeverityOrdering(t *testing.T) {
	low := Score([]model.ProctorEvent{ev(model.EventHeadMovement, model.SeverityLow, false)})
	med := Score([]model.ProctorEvent{ev(model.EventLookingAway, model.SeverityMedium, false)})
	high := Score([]model.ProctorEvent{ev(model.EventFaceNotDetected, model.SeverityHigh, false)})
	flaggedHigh := Score([]model.ProctorEvent{ev(model.EventFaceNotDetected, model.SeverityHigh, true)})

	if !(flaggedHigh < high && high < med && med < low && low < 100) {
		t.Fatalf("severity ordering violated: %v %v %v %v", flaggedHigh, high, med, low)
	}
}

func TestMoreEventsNeverIncreaseScore(t *testing.T) {
	var events []model.ProctorEvent
	prev := Score(events)
	for i := 0; i < 30; i++ {
		events = append(events, ev(model.EventLookingAway, model.SeverityLow, false))
		got := Score(events)
		if got > prev {
			t.Fatalf("score increased after adding an event: %v -> %v", prev, got)
		}
		prev = got
	}
	if prev < 0 {
		t.Fatalf("score must clamp at 0, got %v", prev)
	}
}

func TestScoreClampsAtZero(t *testing.T) {
	var events []model.ProctorEvent
	for i := 0; i < 50; i++ {
		events = append(events, ev(model.EventFaceNotDetected, model.SeverityHigh, true))
	}
	if got := Score(events); got != 0 {
		t.Fatalf("expected clamp at 0, got %v", got)
	}
	if rec := Recommend(0, nil); rec != model.RecommendFail {
		t.Fatalf("expected fail at zero score, got %s", rec)
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	events := []model.ProctorEvent{
		ev(model.EventMultipleFaces, model.SeverityHigh, true),
		ev(model.EventLookingAway, model.SeverityMedium, false),
		ev(model.EventHeadMovement, model.SeverityLow, false),
		ev(model.EventTabSwitch, model.SeverityMedium, false),
	}
	first := Analyze("sess-1", events, nil)
	second := Analyze("sess-1", events, nil)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("analysis not deterministic:\n%+v\n%+v", first, second)
	}
	if first.TotalEvents != 4 || first.FlaggedEvents != 1 {
		t.Fatalf("unexpected counts: %+v", first)
	}
	if first.ByType[model.EventLookingAway] != 1 || first.BySeverity[model.SeverityMedium] != 2 {
		t.Fatalf("unexpected distributions: %+v", first)
	}
}

func TestEscalatedFlagForcesInvestigate(t *testing.T) {
	flags := []model.IntegrityFlag{{
		FlagType: model.EventMultipleFaces,
		Decision: model.DecisionEscalated,
	}}
	if rec := Recommend(95, flags); rec != model.RecommendInvestigate {
		t.Fatalf("escalated flag must force investigate, got %s", rec)
	}
	pending := []model.IntegrityFlag{{Decision: model.DecisionPending}}
	if rec := Recommend(95, pending); rec != model.RecommendPass {
		t.Fatalf("pending flag must not change recommendation, got %s", rec)
	}
}

func TestRecommendationBands(t *testing.T) {
	cases := []struct {
		score float64
		want  model.Recommendation
	}{
		{100, model.RecommendPass},
		{80, model.RecommendPass},
		{79.9, model.RecommendReview},
		{60, model.RecommendReview},
		{59.9, model.RecommendFail},
		{0, model.RecommendFail},
	}
	for _, tc := range cases {
		if got := Recommend(tc.score, nil); got != tc.want {
			t.Fatalf("score %v: expected %s, got %s", tc.score, tc.want, got)
		}
	}
}
