package detect

import (
	"testing"
	"time"

	"examguard/internal/config"
	"examguard/internal/model"
)

func testSession(sens model.Sensitivity) model.Session {
	return model.Session{
		UUID:        "sess-1",
		UserID:      "user-1",
		Status:      model.SessionActive,
		Sensitivity: sens,
		Modalities:  model.Modalities{Face: true, Pose: true, Audio: true, Input: true},
	}
}

func testDetectionConfig() config.DetectionConfig {
	cfg := config.DefaultConfig().Detection
	cfg.Audio.BaselineSamples = 3
	return cfg
}

type collector struct {
	events []model.ProctorEvent
}

func (c *collector) emit(ev model.ProctorEvent) {
	c.events = append(c.events, ev)
}

func (c *collector) count(t model.EventType) int {
	return len(c.byType(t))
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

func presentFrame() model.VisualSample {
	return model.VisualSample{
		FaceCount: 1,
		LeftEye:   model.Point{X: 0.4, Y: 0.4},
		RightEye:  model.Point{X: 0.6, Y: 0.4},
		NoseTip:   model.Point{X: 0.5, Y: 0.5},
		UpperLip:  model.Point{X: 0.5, Y: 0.58},
		LowerLip:  model.Point{X: 0.5, Y: 0.585},
	}
}

func absentFrame() model.VisualSample {
	return model.VisualSample{FaceCount: 0}
}

func newTestDetector(sens model.Sensitivity, start time.Time) (*Detector, *collector) {
	col := &collector{}
	d := NewDetector(testSession(sens), testDetectionConfig(), start, col.emit, nil)
	return d, col
}

func TestFaceAbsenceRequiresGraceAndDebounce(t *testing.T) {
	start := time.Now().UTC()
	d, col := newTestDetector(model.SensitivityHigh, start)

	// Warm-up: absent frames inside the grace period never emit, however many.
	ts := start
	for i := 0; i < 20; i++ {
		ts = ts.Add(40 * time.Millisecond)
		d.OnVisualTick(ts, absentFrame())
		if ts.Sub(start) >= d.cfg.GracePeriod {
			break
		}
	}
	// Counter restarts cleanly after a present frame past the grace period.
	ts = start.Add(2 * time.Second)
	d.OnVisualTick(ts, presentFrame())

	for i := 0; i < 8; i++ {
		ts = ts.Add(40 * time.Millisecond)
		d.OnVisualTick(ts, absentFrame())
	}
	if got := col.count(model.EventFaceNotDetected); got != 1 {
		t.Fatalf("expected exactly one face_not_detected after 8 absent frames, got %d", got)
	}
	ev := col.events[len(col.events)-1]
	if ev.Severity != model.SeverityHigh || !ev.Flagged {
		t.Fatalf("face_not_detected must be high severity and flagged: %+v", ev)
	}
}

func TestTransientMissingFrameNeverEmits(t *testing.T) {
	start := time.Now().UTC()
	d, col := newTestDetector(model.SensitivityHigh, start)

	ts := start.Add(2 * time.Second)
	for i := 0; i < 5; i++ {
		ts = ts.Add(40 * time.Millisecond)
		d.OnVisualTick(ts, presentFrame())
	}
	ts = ts.Add(40 * time.Millisecond)
	d.OnVisualTick(ts, absentFrame())
	for i := 0; i < 5; i++ {
		ts = ts.Add(40 * time.Millisecond)
		d.OnVisualTick(ts, presentFrame())
	}
	if got := col.count(model.EventFaceNotDetected); got != 0 {
		t.Fatalf("transient absent frame emitted %d events", got)
	}
}

func TestFaceRecoveryResetsCounter(t *testing.T) {
	start := time.Now().UTC()
	d, col := newTestDetector(model.SensitivityHigh, start)

	ts := start.Add(2 * time.Second)
	// 7 absent + 1 present + 7 absent: never 8 consecutive.
	for i := 0; i < 7; i++ {
		ts = ts.Add(40 * time.Millisecond)
		d.OnVisualTick(ts, absentFrame())
	}
	ts = ts.Add(40 * time.Millisecond)
	d.OnVisualTick(ts, presentFrame())
	for i := 0; i < 7; i++ {
		ts = ts.Add(40 * time.Millisecond)
		d.OnVisualTick(ts, absentFrame())
	}
	if got := col.count(model.EventFaceNotDetected); got != 0 {
		t.Fatalf("interrupted absence run emitted %d events", got)
	}
}

func TestMultipleFacesStateless(t *testing.T) {
	start := time.Now().UTC()
	d, col := newTestDetector(model.SensitivityHigh, start)

	frame := presentFrame()
	frame.FaceCount = 2
	d.OnVisualTick(start.Add(2*time.Second), frame)
	if got := col.count(model.EventMultipleFaces); got != 1 {
		t.Fatalf("expected immediate multiple_faces, got %d", got)
	}
}

func TestLookingAwayEdgeTriggered(t *testing.T) {
	start := time.Now().UTC()
	d, col := newTestDetector(model.SensitivityHigh, start)

	ts := start.Add(2 * time.Second)
	d.OnVisualTick(ts, presentFrame()) // sets visual baseline

	away := presentFrame()
	away.NoseTip = model.Point{X: 0.55, Y: 0.5} // 0.25 eye-distances > 0.15
	for i := 0; i < 5; i++ {
		ts = ts.Add(40 * time.Millisecond)
		d.OnVisualTick(ts, away)
	}
	emitted := col.byType(model.EventLookingAway)
	if len(emitted) != 1 {
		t.Fatalf("expected single edge-triggered looking_away, got %d", len(emitted))
	}
	ev := emitted[0]
	gaze, ok := ev.Data.(*model.GazePayload)
	if !ok || gaze.Reason != "off_camera" || ev.Severity != model.SeverityMedium {
		t.Fatalf("unexpected looking_away payload: %+v", ev)
	}
}

func TestGazeDriftDebounceResets(t *testing.T) {
	start := time.Now().UTC()
	d, col := newTestDetector(model.SensitivityHigh, start)

	ts := start.Add(2 * time.Second)
	d.OnVisualTick(ts, presentFrame())

	drift := presentFrame()
	drift.NoseTip = model.Point{X: 0.52, Y: 0.5} // 0.1 eye-distances: between 0.075 and 0.15

	// N-1 drifting frames, one ok frame, N-1 drifting frames: never emits.
	for i := 0; i < 7; i++ {
		ts = ts.Add(40 * time.Millisecond)
		d.OnVisualTick(ts, drift)
	}
	ts = ts.Add(40 * time.Millisecond)
	d.OnVisualTick(ts, presentFrame())
	for i := 0; i < 7; i++ {
		ts = ts.Add(40 * time.Millisecond)
		d.OnVisualTick(ts, drift)
	}
	if got := col.count(model.EventLookingAway); got != 0 {
		t.Fatalf("interrupted drift emitted %d events", got)
	}

	// One more sustained frame completes the run.
	ts = ts.Add(40 * time.Millisecond)
	d.OnVisualTick(ts, drift)
	if got := col.count(model.EventLookingAway); got != 1 {
		t.Fatalf("sustained drift should emit once, got %d", got)
	}
	ev := col.events[len(col.events)-1]
	if gaze, ok := ev.Data.(*model.GazePayload); !ok || gaze.Reason != "gaze_drift" || ev.Severity != model.SeverityLow {
		t.Fatalf("unexpected drift payload: %+v", ev)
	}
}

func TestRecordedFramesLeaveWarmupGrace(t *testing.T) {
	start := time.Now().UTC()
	d, col := newTestDetector(model.SensitivityHigh, start)

	// Frames recorded an hour before the session started: the warm-up
	// grace anchors to the first frame, not the session clock.
	ts := start.Add(-time.Hour)
	for i := 0; i < 80; i++ {
		d.OnVisualTick(ts, absentFrame())
		ts = ts.Add(40 * time.Millisecond)
	}
	emitted := col.byType(model.EventFaceNotDetected)
	if len(emitted) == 0 {
		t.Fatal("recorded absence never detected")
	}
	for _, ev := range emitted {
		if !ev.Timestamp.Before(start.Add(-50 * time.Minute)) {
			t.Fatalf("event timestamp not from the recording: %v", ev.Timestamp)
		}
	}
}

func TestTickThrottleSkipsFastFrames(t *testing.T) {
	start := time.Now().UTC()
	d, col := newTestDetector(model.SensitivityHigh, start)

	ts := start.Add(2 * time.Second)
	d.OnVisualTick(ts, presentFrame())
	// 8 absent frames only 5ms apart: all but the first are dropped by the
	// frame budget, so no absence run accumulates.
	for i := 0; i < 8; i++ {
		ts = ts.Add(5 * time.Millisecond)
		d.OnVisualTick(ts, absentFrame())
	}
	if got := col.count(model.EventFaceNotDetected); got != 0 {
		t.Fatalf("throttled frames still emitted %d events", got)
	}
}

func audioWarmup(d *Detector, ts time.Time) time.Time {
	for i := 0; i < 3; i++ {
		ts = ts.Add(100 * time.Millisecond)
		d.OnAudioSample(ts, model.AudioSample{RMS: 0.01})
	}
	return ts
}

func TestBackgroundNoiseRequiresClosedMouth(t *testing.T) {
	start := time.Now().UTC()
	d, col := newTestDetector(model.SensitivityHigh, start)

	ts := start.Add(2 * time.Second)
	d.OnVisualTick(ts, presentFrame()) // closed mouth, fresh frame
	ts = audioWarmup(d, ts)

	ts = ts.Add(100 * time.Millisecond)
	d.OnVisualTick(ts, presentFrame())
	d.OnAudioSample(ts, model.AudioSample{RMS: 0.5})
	if got := col.count(model.EventSuspiciousActivity); got != 1 {
		t.Fatalf("expected background noise event with closed mouth, got %d", got)
	}
	ev := col.events[len(col.events)-1]
	if ev.Subtype != model.SubtypeBackgroundNoise || ev.Severity != model.SeverityMedium {
		t.Fatalf("expected escalated background_noise, got %+v", ev)
	}

	// Open mouth: same RMS must not emit.
	d2, col2 := newTestDetector(model.SensitivityHigh, start)
	open := presentFrame()
	open.LowerLip.Y = 0.68
	ts2 := start.Add(2 * time.Second)
	d2.OnVisualTick(ts2, open)
	ts2 = audioWarmup(d2, ts2)
	ts2 = ts2.Add(100 * time.Millisecond)
	d2.OnVisualTick(ts2, open)
	d2.OnAudioSample(ts2, model.AudioSample{RMS: 0.5})
	if got := col2.count(model.EventSuspiciousActivity); got != 0 {
		t.Fatalf("open mouth emitted %d background noise events", got)
	}
}

func TestAudioSuspendedBlocksDetectionUntilResume(t *testing.T) {
	start := time.Now().UTC()
	d, col := newTestDetector(model.SensitivityHigh, start)

	ts := start.Add(2 * time.Second)
	d.OnVisualTick(ts, presentFrame())
	ts = audioWarmup(d, ts)

	ts = ts.Add(100 * time.Millisecond)
	d.OnAudioSample(ts, model.AudioSample{RMS: 0.5, Suspended: true})
	ts = ts.Add(100 * time.Millisecond)
	d.OnVisualTick(ts, presentFrame())
	d.OnAudioSample(ts, model.AudioSample{RMS: 0.5})
	if got := col.count(model.EventSuspiciousActivity); got != 0 {
		t.Fatalf("suspended audio still emitted %d events", got)
	}

	d.ResumeAudio(ts)
	ts = ts.Add(100 * time.Millisecond)
	d.OnVisualTick(ts, presentFrame())
	d.OnAudioSample(ts, model.AudioSample{RMS: 0.5})
	if got := col.count(model.EventSuspiciousActivity); got != 1 {
		t.Fatalf("expected detection after resume, got %d", got)
	}
}

func TestCooldownSuppressesSameTypeSeverityPairs(t *testing.T) {
	start := time.Now().UTC()
	d, col := newTestDetector(model.SensitivityHigh, start)

	frame := presentFrame()
	frame.FaceCount = 3
	ts := start.Add(2 * time.Second)
	// 20 multi-face frames over ~0.8s; high-severity cooldown is 1s, so at
	// most one event may fire.
	for i := 0; i < 20; i++ {
		ts = ts.Add(40 * time.Millisecond)
		d.OnVisualTick(ts, frame)
	}
	if got := col.count(model.EventMultipleFaces); got != 1 {
		t.Fatalf("cooldown violated: %d multiple_faces within the window", got)
	}

	// No pair of emitted events with the same (type, severity) may sit
	// closer together than the severity's window.
	cfg := testDetectionConfig()
	last := make(map[string]time.Time)
	for _, ev := range col.events {
		if prev, ok := last[ev.Key()]; ok {
			if ev.Timestamp.Sub(prev) < cfg.Cooldowns.For(ev.Severity) {
				t.Fatalf("events of %s within cooldown window", ev.Key())
			}
		}
		last[ev.Key()] = ev.Timestamp
	}
}

func TestDegradedModeWithoutVisualBaseline(t *testing.T) {
	start := time.Now().UTC()
	d, col := newTestDetector(model.SensitivityHigh, start)

	// No stable face is ever seen: head-angle checks stay off, but gross
	// absence still fires.
	ts := start.Add(2 * time.Second)
	for i := 0; i < 8; i++ {
		ts = ts.Add(40 * time.Millisecond)
		d.OnVisualTick(ts, absentFrame())
	}
	if got := col.count(model.EventFaceNotDetected); got != 1 {
		t.Fatalf("degraded mode missed gross absence, got %d", got)
	}
	if d.VisualReady() {
		t.Fatalf("visual baseline unexpectedly calibrated")
	}
}
