package detect

import (
	"log/slog"
	"time"

	"examguard/internal/baseline"
	"examguard/internal/config"
	"examguard/internal/model"
)

const (
	keyFaceAbsent = "face_absent"
	keyGazeDrift  = "gaze_drift"

	reasonOffCamera = "off_camera"
	reasonGazeDrift = "gaze_drift"

	// How long a visual frame stays fresh enough to vouch for the
	// mouth-closed heuristic on the audio path.
	mouthFreshness = time.Second
)

// Emitter receives events that survived debounce and the detector-layer
// cooldown. The transport-layer throttler applies its own gates after this.
type Emitter func(model.ProctorEvent)

// Detector is the per-session visual+audio state machine. All methods are
// called from the session dispatcher goroutine only; no internal locking.
type Detector struct {
	logger  *slog.Logger
	session model.Session
	th      baseline.Thresholds
	cfg     config.DetectionConfig
	emit    Emitter

	audioBase  *baseline.AudioBaseline
	visualBase baseline.VisualBaseline
	cooldown   *Cooldown
	debounce   *Debounce

	startedAt      time.Time
	firstTick      time.Time
	lastTick       time.Time
	lastVisual     model.VisualSample
	lastVisualAt   time.Time
	facePresent    bool
	gazeOK         bool
	audioSuspended bool
	suspendLogged  bool
}

func NewDetector(session model.Session, cfg config.DetectionConfig, startedAt time.Time, emit Emitter, logger *slog.Logger) *Detector {
	return &Detector{
		logger:      logger,
		session:     session,
		th:          baseline.For(session.Sensitivity),
		cfg:         cfg,
		emit:        emit,
		audioBase:   baseline.NewAudioBaseline(cfg.Audio.BaselineSamples),
		cooldown:    NewCooldown(),
		debounce:    NewDebounce(),
		startedAt:   startedAt,
		facePresent: true,
		gazeOK:      true,
	}
}

func (d *Detector) FacePresent() bool    { return d.facePresent }
func (d *Detector) AudioReady() bool     { return d.audioBase.Ready() }
func (d *Detector) VisualReady() bool    { return d.visualBase.Ready() }
func (d *Detector) AudioSuspended() bool { return d.audioSuspended }

func (d *Detector) HandleSample(s model.Sample) {
	switch s.Kind {
	case model.SampleVisual:
		if s.Visual != nil {
			d.OnVisualTick(s.Timestamp, *s.Visual)
		}
	case model.SampleAudio:
		if s.Audio != nil {
			d.OnAudioSample(s.Timestamp, *s.Audio)
		}
	}
}

func (d *Detector) OnVisualTick(ts time.Time, v model.VisualSample) {
	if !d.session.Modalities.Face && !d.session.Modalities.Pose {
		return
	}
	// Skip ticks arriving faster than the frame budget.
	if !d.lastTick.IsZero() && ts.Sub(d.lastTick) < d.cfg.TickMinInterval {
		return
	}
	d.lastTick = ts
	if d.firstTick.IsZero() {
		d.firstTick = ts
	}

	d.visualBase.Observe(v)

	if v.FaceCount == 0 {
		d.onFaceAbsent(ts)
		return
	}

	// Recovery is immediate: any frame with a face resets the absence run.
	d.debounce.Reset(keyFaceAbsent)
	d.facePresent = true
	d.lastVisual = v
	d.lastVisualAt = ts

	if v.FaceCount > 1 {
		// Stateless on purpose: one multi-face frame is itself evidence,
		// only the cooldown limits re-emission.
		d.tryEmit(ts, model.ProctorEvent{
			Type:     model.EventMultipleFaces,
			Severity: model.SeverityHigh,
			Flagged:  true,
			Data:     &model.FacePayload{FaceCount: v.FaceCount},
		})
		return
	}

	if !d.visualBase.Ready() {
		return
	}
	d.checkGaze(ts, v)
	if d.session.Modalities.Pose {
		d.checkMovement(ts, v)
	}
}

func (d *Detector) onFaceAbsent(ts time.Time) {
	if !d.session.Modalities.Face {
		return
	}
	count := d.debounce.Hit(keyFaceAbsent)
	// The warm-up grace anchors to the earlier of session start and the
	// first processed frame; replayed footage is timestamped long before
	// the session started.
	anchor := d.startedAt
	if !d.firstTick.IsZero() && d.firstTick.Before(anchor) {
		anchor = d.firstTick
	}
	if ts.Sub(anchor) < d.cfg.GracePeriod {
		return
	}
	if count < d.th.FaceAbsenceFrames {
		return
	}
	d.facePresent = false
	d.tryEmit(ts, model.ProctorEvent{
		Type:     model.EventFaceNotDetected,
		Severity: model.SeverityHigh,
		Flagged:  true,
		Data: &model.FacePayload{
			FaceCount:      0,
			AbsentFrames:   count,
			RequiredFrames: d.th.FaceAbsenceFrames,
		},
	})
}

func (d *Detector) checkGaze(ts time.Time, v model.VisualSample) {
	dev := d.visualBase.NoseDeviation(v)
	roll := baseline.RollAngle(v)
	away := dev > d.th.LookAwayDeviation || roll > d.th.RollAngleDeg

	if away {
		d.debounce.Reset(keyGazeDrift)
		if d.gazeOK {
			d.gazeOK = false
			d.tryEmit(ts, model.ProctorEvent{
				Type:     model.EventLookingAway,
				Severity: model.SeverityMedium,
				Data: &model.GazePayload{
					Reason:    reasonOffCamera,
					Deviation: dev,
					Roll:      roll,
					Threshold: d.th.LookAwayDeviation,
				},
			})
		}
		return
	}

	// Back under the full threshold: state resets silently, no recovery event.
	d.gazeOK = true

	if dev > d.th.SlightDrift {
		if d.debounce.Hit(keyGazeDrift) >= d.th.GazeDriftFrames {
			d.debounce.Reset(keyGazeDrift)
			d.tryEmit(ts, model.ProctorEvent{
				Type:     model.EventLookingAway,
				Severity: model.SeverityLow,
				Data: &model.GazePayload{
					Reason:    reasonGazeDrift,
					Deviation: dev,
					Roll:      roll,
					Threshold: d.th.SlightDrift,
				},
			})
		}
		return
	}
	d.debounce.Reset(keyGazeDrift)
}

func (d *Detector) checkMovement(ts time.Time, v model.VisualSample) {
	if dev := d.visualBase.NoseDeviation(v); dev > d.th.HeadMoveDelta {
		d.tryEmit(ts, model.ProctorEvent{
			Type:     model.EventHeadMovement,
			Severity: model.SeverityLow,
			Data:     &model.MovementPayload{Delta: dev, Threshold: d.th.HeadMoveDelta},
		})
	}
	if shift := d.visualBase.EyeShift(v); shift > d.th.PoseShiftDelta {
		d.tryEmit(ts, model.ProctorEvent{
			Type:     model.EventPoseChange,
			Severity: model.SeverityLow,
			Data:     &model.MovementPayload{Delta: shift, Threshold: d.th.PoseShiftDelta},
		})
	}
}

func (d *Detector) OnAudioSample(ts time.Time, a model.AudioSample) {
	if !d.session.Modalities.Audio {
		return
	}
	if a.Suspended {
		d.audioSuspended = true
		if !d.suspendLogged && d.logger != nil {
			d.logger.Warn("audio context suspended, background-noise detection unavailable",
				"session_uuid", d.session.UUID)
			d.suspendLogged = true
		}
		return
	}
	if d.audioSuspended {
		// Still suspended until a user gesture resumes the context.
		return
	}
	if !d.audioBase.Ready() {
		d.audioBase.Add(a.RMS)
		return
	}

	threshold := d.audioBase.Threshold(d.th.AudioFactor, d.cfg.Audio.MinRMS)
	if a.RMS <= threshold {
		return
	}
	// Voice-like energy alone is not enough: the monitored subject's mouth
	// must be closed on a fresh frame, otherwise they may just be speaking.
	if d.lastVisualAt.IsZero() || ts.Sub(d.lastVisualAt) > mouthFreshness {
		return
	}
	if !d.visualBase.MouthClosed(d.lastVisual, d.th.MouthClosedGap) {
		return
	}

	sev := model.SeverityLow
	if a.RMS > threshold*d.cfg.Audio.EscalateFactor {
		sev = model.SeverityMedium
	}
	d.tryEmit(ts, model.ProctorEvent{
		Type:     model.EventSuspiciousActivity,
		Subtype:  model.SubtypeBackgroundNoise,
		Severity: sev,
		Data: &model.AudioPayload{
			RMS:       a.RMS,
			Threshold: threshold,
			Baseline:  d.audioBase.Value(),
			MouthGap:  d.lastVisual.MouthGap(),
		},
	})
}

// ResumeAudio is invoked by the session on the next user gesture after the
// capture client reported a suspended audio context.
func (d *Detector) ResumeAudio(ts time.Time) {
	if !d.audioSuspended {
		return
	}
	d.audioSuspended = false
	d.suspendLogged = false
	if d.logger != nil {
		d.logger.Info("audio context resumed", "session_uuid", d.session.UUID, "at", ts)
	}
}

func (d *Detector) tryEmit(ts time.Time, ev model.ProctorEvent) {
	ev.SessionUUID = d.session.UUID
	ev.UserID = d.session.UserID
	ev.Timestamp = ts.UTC()
	if !d.cooldown.Allow(ev.Key(), ev.Timestamp, d.cfg.Cooldowns.For(ev.Severity)) {
		return
	}
	if d.emit != nil {
		d.emit(ev)
	}
}
