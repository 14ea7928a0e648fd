package behavior

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examguard/internal/config"
	"examguard/internal/model"
)

func testSession() model.Session {
	return model.Session{
		UUID:        "sess-1",
		UserID:      "user-1",
		Status:      model.SessionActive,
		Sensitivity: model.SensitivityMedium,
		Modalities:  model.Modalities{Face: true, Pose: true, Audio: true, Input: true},
	}
}

type collector struct {
	events []model.ProctorEvent
}

func (c *collector) emit(ev model.ProctorEvent) {
	c.events = append(c.events, ev)
}

func (c *collector) byType(t model.EventType) []model.ProctorEvent {
	var out []model.ProctorEvent
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newTestMonitor(start time.Time) (*Monitor, *collector) {
	col := &collector{}
	cfg := config.DefaultConfig()
	m := NewMonitor(testSession(), cfg.Behavior, cfg.Detection.Cooldowns, start, col.emit, nil)
	return m, col
}

func keyDown(surface string) model.InputEvent {
	return model.InputEvent{Kind: model.InputKeyDown, Surface: surface, Key: "a"}
}

func TestTypingSpeedAnomaly(t *testing.T) {
	start := time.Now().UTC()
	m, col := newTestMonitor(start)

	ts := start
	// ~600 keystrokes/min, far over the fixed 150 ceiling.
	for i := 0; i < 30; i++ {
		m.HandleInput(ts, keyDown(model.SurfaceCode))
		ts = ts.Add(100 * time.Millisecond)
	}
	// Poll fires on the next input after the 30s code period.
	m.HandleInput(start.Add(31*time.Second), keyDown(model.SurfaceCode))

	anomalies := col.byType(model.EventKeystrokeAnomaly)
	require.NotEmpty(t, anomalies)
	found := false
	for _, ev := range anomalies {
		p, ok := ev.Data.(*model.BehaviorPayload)
		require.True(t, ok)
		if p.Metric == metricTypingSpeed {
			found = true
			assert.Equal(t, model.SeverityHigh, ev.Severity)
			assert.True(t, ev.Flagged)
			assert.Greater(t, p.Value, 150.0)
		}
	}
	assert.True(t, found, "expected a typing_speed anomaly")
}

func TestNoAnomalyBeforePollPeriod(t *testing.T) {
	start := time.Now().UTC()
	m, col := newTestMonitor(start)

	ts := start
	for i := 0; i < 30; i++ {
		m.HandleInput(ts, keyDown(model.SurfaceCode))
		ts = ts.Add(50 * time.Millisecond)
	}
	// All inside the 30s poll period: nothing may fire yet, however fast
	// the typing was.
	assert.Empty(t, col.byType(model.EventKeystrokeAnomaly))
}

func TestVarianceAnomaly(t *testing.T) {
	start := time.Now().UTC()
	m, col := newTestMonitor(start)

	ts := start
	gaps := []time.Duration{100 * time.Millisecond, 2 * time.Second}
	for i := 0; i < 20; i++ {
		m.HandleInput(ts, keyDown(model.SurfaceCode))
		ts = ts.Add(gaps[i%2])
	}
	m.HandleInput(start.Add(40*time.Second), keyDown(model.SurfaceCode))

	found := false
	for _, ev := range col.byType(model.EventKeystrokeAnomaly) {
		if p := ev.Data.(*model.BehaviorPayload); p.Metric == metricVariance {
			found = true
			assert.Equal(t, model.SeverityMedium, ev.Severity)
			assert.Greater(t, p.Value, 500.0)
		}
	}
	assert.True(t, found, "expected a variance anomaly")
}

func TestExcessivePauses(t *testing.T) {
	start := time.Now().UTC()
	m, col := newTestMonitor(start)

	ts := start
	// Seven keystrokes with >10s gaps: six unusual pauses, over the limit
	// of five.
	for i := 0; i < 7; i++ {
		m.HandleInput(ts, keyDown(model.SurfaceCode))
		ts = ts.Add(11 * time.Second)
	}
	events := col.byType(model.EventExcessiveTypingPause)
	require.NotEmpty(t, events)
	assert.Equal(t, model.SeverityMedium, events[0].Severity)
	p := events[0].Data.(*model.BehaviorPayload)
	assert.Equal(t, float64(6), p.Value)
}

func TestLowFocusAnomaly(t *testing.T) {
	start := time.Now().UTC()
	m, col := newTestMonitor(start)

	m.HandleInput(start.Add(time.Second), model.InputEvent{Kind: model.InputBlur, Surface: model.SurfaceText})
	// Still blurred when the 45s text poll period elapses.
	m.HandleInput(start.Add(50*time.Second), keyDown(model.SurfaceText))

	events := col.byType(model.EventSuspiciousActivity)
	require.NotEmpty(t, events)
	ev := events[0]
	assert.Equal(t, model.SubtypeLowFocus, ev.Subtype)
	assert.Equal(t, model.SeverityHigh, ev.Severity)
	assert.True(t, ev.Flagged)
	p := ev.Data.(*model.BehaviorPayload)
	assert.Less(t, p.Value, 0.6)
}

func TestFocusPercentAccounting(t *testing.T) {
	start := time.Now().UTC()
	m, _ := newTestMonitor(start)

	m.HandleInput(start.Add(6*time.Second), model.InputEvent{Kind: model.InputBlur})
	m.HandleInput(start.Add(8*time.Second), model.InputEvent{Kind: model.InputFocus})
	// 6s focused + 2s blurred + 2s focused = 8/10.
	assert.InDelta(t, 0.8, m.FocusPercent(start.Add(10*time.Second)), 0.001)
}

func TestLargePasteSeverityTiers(t *testing.T) {
	start := time.Now().UTC()

	cases := []struct {
		name     string
		prior    int
		delta    int
		severity model.Severity
		flagged  bool
	}{
		{"delta dwarfs prior content", 100, 150, model.SeverityHigh, true},
		{"delta significant vs prior", 500, 200, model.SeverityMedium, false},
		{"delta small vs prior", 5000, 150, model.SeverityLow, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, col := newTestMonitor(start)
			// Establish prior content length first.
			m.HandleInput(start, model.InputEvent{
				Kind: model.InputContentChange, Surface: model.SurfaceText,
				ContentLength: tc.prior, DeltaLength: 1,
			})
			m.HandleInput(start.Add(time.Second), model.InputEvent{
				Kind: model.InputContentChange, Surface: model.SurfaceText,
				ContentLength: tc.prior + tc.delta, DeltaLength: tc.delta,
			})
			events := col.byType(model.EventClipboardSuspicious)
			require.Len(t, events, 1)
			assert.Equal(t, tc.severity, events[0].Severity)
			assert.Equal(t, tc.flagged, events[0].Flagged)
			p := events[0].Data.(*model.PastePayload)
			assert.Equal(t, tc.delta, p.Delta)
			assert.Equal(t, tc.prior, p.PriorLength)
		})
	}
}

func TestSmallDeltaNotTreatedAsPaste(t *testing.T) {
	start := time.Now().UTC()
	m, col := newTestMonitor(start)
	m.HandleInput(start, model.InputEvent{
		Kind: model.InputContentChange, Surface: model.SurfaceText,
		ContentLength: 50, DeltaLength: 50,
	})
	assert.Empty(t, col.byType(model.EventClipboardSuspicious))
}

func TestDirectInputEvents(t *testing.T) {
	start := time.Now().UTC()
	m, col := newTestMonitor(start)

	m.HandleInput(start, model.InputEvent{Kind: model.InputTabSwitch})
	m.HandleInput(start.Add(time.Second), model.InputEvent{Kind: model.InputDevtools})
	m.HandleInput(start.Add(2*time.Second), model.InputEvent{Kind: model.InputBlur})
	m.HandleInput(start.Add(3*time.Second), model.InputEvent{Kind: model.InputScreenCapture, Key: "PrintScreen"})
	m.HandleInput(start.Add(4*time.Second), model.InputEvent{Kind: model.InputFocus, Surface: model.SurfaceCode})

	require.Len(t, col.byType(model.EventTabSwitch), 1)
	devtools := col.byType(model.EventDevtoolsOpened)
	require.Len(t, devtools, 1)
	assert.True(t, devtools[0].Flagged)
	require.Len(t, col.byType(model.EventWindowBlur), 1)
	require.Len(t, col.byType(model.EventScreenCaptureAttempt), 1)
	require.Len(t, col.byType(model.EventCodeEditorInteraction), 1)
}

func TestIntervalBufferCapped(t *testing.T) {
	start := time.Now().UTC()
	col := &collector{}
	cfg := config.DefaultConfig()
	cfg.Behavior.MaxIntervals = 5
	m := NewMonitor(testSession(), cfg.Behavior, cfg.Detection.Cooldowns, start, col.emit, nil)

	ts := start
	for i := 0; i < 50; i++ {
		m.HandleInput(ts, keyDown(model.SurfaceCode))
		ts = ts.Add(100 * time.Millisecond)
	}
	st := m.surfaces[model.SurfaceCode]
	require.NotNil(t, st)
	assert.LessOrEqual(t, len(st.intervals), 5)
	assert.Equal(t, 50, st.keystrokes)
}
