package behavior

import (
	"log/slog"
	"math"
	"time"

	"examguard/internal/config"
	"examguard/internal/detect"
	"examguard/internal/model"
)

const (
	metricTypingSpeed = "typing_speed"
	metricVariance    = "typing_variance"
	metricPauses      = "unusual_pauses"
	metricFocus       = "focus_percent"

	// Intervals at or above one second do not describe typing rhythm and
	// are excluded from the speed mean.
	speedIntervalMax = 1000.0
)

// Monitor tracks input-device behavior for one session: keystroke cadence,
// focus/blur coverage, clipboard and navigation events. It runs beside the
// visual detector and feeds the same throttled event path. Anomaly checks
// are polled on a fixed period per surface rather than per keystroke.
type Monitor struct {
	logger    *slog.Logger
	session   model.Session
	cfg       config.BehaviorConfig
	cooldowns config.CooldownConfig
	emit      func(model.ProctorEvent)

	surfaces map[string]*surfaceState
	cooldown *detect.Cooldown

	trackingSince time.Time
	focusChanged  time.Time
	focused       bool
	focusedDur    time.Duration
}

type surfaceState struct {
	surface    string
	lastKey    time.Time
	intervals  []float64
	keystrokes int
	pauseCount int
	lastPoll   time.Time
	contentLen int
	seen       bool
}

func NewMonitor(session model.Session, cfg config.BehaviorConfig, cooldowns config.CooldownConfig, startedAt time.Time, emit func(model.ProctorEvent), logger *slog.Logger) *Monitor {
	return &Monitor{
		logger:        logger,
		session:       session,
		cfg:           cfg,
		cooldowns:     cooldowns,
		emit:          emit,
		surfaces:      make(map[string]*surfaceState),
		cooldown:      detect.NewCooldown(),
		trackingSince: startedAt,
		focusChanged:  startedAt,
		focused:       true,
	}
}

func (m *Monitor) HandleInput(ts time.Time, in model.InputEvent) {
	if !m.session.Modalities.Input {
		return
	}
	switch in.Kind {
	case model.InputKeyDown:
		m.onKeyDown(ts, in)
	case model.InputFocus:
		m.onFocus(ts, in)
	case model.InputBlur:
		m.onBlur(ts, in)
	case model.InputTabSwitch:
		m.tryEmit(ts, model.ProctorEvent{
			Type:     model.EventTabSwitch,
			Severity: model.SeverityMedium,
			Data:     &model.InputPayload{Surface: in.Surface},
		})
	case model.InputCopy, model.InputCut:
		m.tryEmit(ts, model.ProctorEvent{
			Type:     model.EventCopyPaste,
			Severity: model.SeverityLow,
			Data:     &model.InputPayload{Surface: in.Surface, Key: string(in.Kind)},
		})
	case model.InputPaste:
		m.tryEmit(ts, model.ProctorEvent{
			Type:     model.EventCopyPaste,
			Severity: model.SeverityMedium,
			Data:     &model.InputPayload{Surface: in.Surface, Key: string(in.Kind)},
		})
	case model.InputContentChange:
		m.onContentChange(ts, in)
	case model.InputDevtools:
		m.tryEmit(ts, model.ProctorEvent{
			Type:     model.EventDevtoolsOpened,
			Severity: model.SeverityHigh,
			Flagged:  true,
			Data:     &model.InputPayload{Surface: in.Surface},
		})
	case model.InputScreenCapture:
		m.tryEmit(ts, model.ProctorEvent{
			Type:     model.EventScreenCaptureAttempt,
			Severity: model.SeverityHigh,
			Flagged:  true,
			Data:     &model.InputPayload{Key: in.Key},
		})
	}
	m.MaybePoll(ts)
}

func (m *Monitor) onKeyDown(ts time.Time, in model.InputEvent) {
	st := m.surface(in.Surface, ts)
	st.keystrokes++
	if !st.lastKey.IsZero() {
		gap := ts.Sub(st.lastKey)
		if gap >= m.cfg.PauseGap {
			// Long pauses are tallied separately and never enter the
			// rhythm buffer.
			st.pauseCount++
		} else if gap > 0 {
			st.intervals = append(st.intervals, float64(gap.Milliseconds()))
			if len(st.intervals) > m.cfg.MaxIntervals {
				st.intervals = st.intervals[len(st.intervals)-m.cfg.MaxIntervals:]
			}
		}
	}
	st.lastKey = ts
}

func (m *Monitor) onFocus(ts time.Time, in model.InputEvent) {
	if !m.focused {
		m.focused = true
		m.focusChanged = ts
	}
	st := m.surface(in.Surface, ts)
	if !st.seen && (in.Surface == model.SurfaceCode || in.Surface == model.SurfaceText) {
		st.seen = true
		t := model.EventTextEditorInteraction
		if in.Surface == model.SurfaceCode {
			t = model.EventCodeEditorInteraction
		}
		m.tryEmit(ts, model.ProctorEvent{
			Type:     t,
			Severity: model.SeverityLow,
			Data:     &model.InputPayload{Surface: in.Surface},
		})
	}
}

func (m *Monitor) onBlur(ts time.Time, in model.InputEvent) {
	m.surface(in.Surface, ts)
	if m.focused {
		m.focusedDur += ts.Sub(m.focusChanged)
		m.focused = false
		m.focusChanged = ts
	}
	m.tryEmit(ts, model.ProctorEvent{
		Type:     model.EventWindowBlur,
		Severity: model.SeverityLow,
		Data:     &model.InputPayload{Surface: in.Surface},
	})
}

func (m *Monitor) onContentChange(ts time.Time, in model.InputEvent) {
	st := m.surface(in.Surface, ts)
	prior := st.contentLen
	st.contentLen = in.ContentLength

	delta := in.DeltaLength
	if delta < 0 {
		delta = -delta
	}
	limit := m.cfg.PasteDeltaText
	if in.Surface == model.SurfaceCode {
		limit = m.cfg.PasteDeltaCode
	}
	if limit <= 0 || delta <= limit {
		return
	}

	ratio := float64(delta)
	if prior > 0 {
		ratio = float64(delta) / float64(prior)
	}
	sev := model.SeverityLow
	flagged := false
	switch {
	case ratio >= 1.0:
		sev = model.SeverityHigh
		flagged = true
	case ratio >= 0.3:
		sev = model.SeverityMedium
	}
	m.tryEmit(ts, model.ProctorEvent{
		Type:     model.EventClipboardSuspicious,
		Severity: sev,
		Flagged:  flagged,
		Data: &model.PastePayload{
			Surface:     in.Surface,
			Delta:       delta,
			PriorLength: prior,
			Ratio:       ratio,
		},
	})
}

// MaybePoll runs the anomaly checks for any surface whose poll period has
// elapsed since the surface was first touched or last polled. The session's
// housekeeping tick drives this as well, so anomalies surface even when the
// subject stops typing.
func (m *Monitor) MaybePoll(ts time.Time) {
	for _, st := range m.surfaces {
		if ts.Sub(st.lastPoll) < m.pollInterval(st.surface) {
			continue
		}
		st.lastPoll = ts
		m.poll(ts, st)
	}
}

func (m *Monitor) pollInterval(surface string) time.Duration {
	if surface == model.SurfaceCode {
		return m.cfg.CodePollInterval
	}
	return m.cfg.TextPollInterval
}

func (m *Monitor) poll(ts time.Time, st *surfaceState) {
	speed := typingSpeed(st.intervals)
	variance := stddev(st.intervals)

	if speed > m.cfg.SpeedMax {
		m.tryEmit(ts, model.ProctorEvent{
			Type:     model.EventKeystrokeAnomaly,
			Severity: model.SeverityHigh,
			Flagged:  true,
			Data: &model.BehaviorPayload{
				Surface: st.surface, Metric: metricTypingSpeed,
				Value: speed, Threshold: m.cfg.SpeedMax,
			},
		})
	}
	if variance > m.cfg.VarianceMax {
		m.tryEmit(ts, model.ProctorEvent{
			Type:     model.EventKeystrokeAnomaly,
			Severity: model.SeverityMedium,
			Data: &model.BehaviorPayload{
				Surface: st.surface, Metric: metricVariance,
				Value: variance, Threshold: m.cfg.VarianceMax,
			},
		})
	}
	if st.pauseCount > m.cfg.PauseMax {
		m.tryEmit(ts, model.ProctorEvent{
			Type:     model.EventExcessiveTypingPause,
			Severity: model.SeverityMedium,
			Data: &model.BehaviorPayload{
				Surface: st.surface, Metric: metricPauses,
				Value: float64(st.pauseCount), Threshold: float64(m.cfg.PauseMax),
			},
		})
	}
	if pct := m.FocusPercent(ts); pct < m.cfg.FocusMin {
		m.tryEmit(ts, model.ProctorEvent{
			Type:     model.EventSuspiciousActivity,
			Subtype:  model.SubtypeLowFocus,
			Severity: model.SeverityHigh,
			Flagged:  true,
			Data: &model.BehaviorPayload{
				Surface: st.surface, Metric: metricFocus,
				Value: pct, Threshold: m.cfg.FocusMin,
			},
		})
	}
}

func (m *Monitor) FocusPercent(ts time.Time) float64 {
	total := ts.Sub(m.trackingSince)
	if total <= 0 {
		return 1
	}
	focused := m.focusedDur
	if m.focused {
		focused += ts.Sub(m.focusChanged)
	}
	pct := float64(focused) / float64(total)
	if pct > 1 {
		pct = 1
	}
	return pct
}

// Stats snapshots the per-surface behavior metrics for dashboard display.
func (m *Monitor) Stats(ts time.Time) []model.BehaviorStats {
	out := make([]model.BehaviorStats, 0, len(m.surfaces))
	for _, st := range m.surfaces {
		out = append(out, model.BehaviorStats{
			SessionUUID:  m.session.UUID,
			Surface:      st.surface,
			Keystrokes:   st.keystrokes,
			TypingSpeed:  typingSpeed(st.intervals),
			Variance:     stddev(st.intervals),
			PauseCount:   st.pauseCount,
			FocusPercent: m.FocusPercent(ts),
			UpdatedAt:    ts.UTC(),
		})
	}
	return out
}

func (m *Monitor) surface(name string, ts time.Time) *surfaceState {
	if name == "" {
		name = model.SurfaceText
	}
	st, ok := m.surfaces[name]
	if !ok {
		// The poll clock starts at first touch.
		st = &surfaceState{surface: name, lastPoll: ts}
		m.surfaces[name] = st
	}
	return st
}

func (m *Monitor) tryEmit(ts time.Time, ev model.ProctorEvent) {
	ev.SessionUUID = m.session.UUID
	ev.UserID = m.session.UserID
	ev.Timestamp = ts.UTC()
	if !m.cooldown.Allow(ev.Key(), ev.Timestamp, m.cooldowns.For(ev.Severity)) {
		return
	}
	if m.emit != nil {
		m.emit(ev)
	}
}

// typingSpeed is 60000 / mean of sub-second intervals, an approximate
// keystrokes-per-minute figure.
func typingSpeed(intervals []float64) float64 {
	var sum float64
	var n int
	for _, iv := range intervals {
		if iv < speedIntervalMax {
			sum += iv
			n++
		}
	}
	if n == 0 || sum == 0 {
		return 0
	}
	return 60000.0 / (sum / float64(n))
}

func stddev(intervals []float64) float64 {
	if len(intervals) < 2 {
		return 0
	}
	var sum float64
	for _, iv := range intervals {
		sum += iv
	}
	mean := sum / float64(len(intervals))
	var m2 float64
	for _, iv := range intervals {
		diff := iv - mean
		m2 += diff * diff
	}
	return math.Sqrt(m2 / float64(len(intervals)-1))
}
