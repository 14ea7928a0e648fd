package baseline

import (
	"math"

	"examguard/internal/model"
)

// Thresholds is one row of the fixed sensitivity x signal-type matrix.
// Higher sensitivity means lower thresholds and shorter debounce counts,
// so more events fire.
type Thresholds struct {
	FaceAbsenceFrames int
	GazeDriftFrames   int
	LookAwayDeviation float64
	SlightDrift       float64
	RollAngleDeg      float64
	HeadMoveDelta     float64
	PoseShiftDelta    float64
	AudioFactor       float64
	MouthClosedGap    float64
}

var table = map[model.Sensitivity]Thresholds{
	model.SensitivityHigh: {
		FaceAbsenceFrames: 8,
		GazeDriftFrames:   8,
		LookAwayDeviation: 0.15,
		RollAngleDeg:      20,
		HeadMoveDelta:     0.12,
		PoseShiftDelta:    0.15,
		AudioFactor:       2.0,
		MouthClosedGap:    0.08,
	},
	model.SensitivityMedium: {
		FaceAbsenceFrames: 12,
		GazeDriftFrames:   12,
		LookAwayDeviation: 0.20,
		RollAngleDeg:      25,
		HeadMoveDelta:     0.18,
		PoseShiftDelta:    0.20,
		AudioFactor:       2.5,
		MouthClosedGap:    0.08,
	},
	model.SensitivityLow: {
		FaceAbsenceFrames: 16,
		GazeDriftFrames:   16,
		LookAwayDeviation: 0.25,
		RollAngleDeg:      30,
		HeadMoveDelta:     0.25,
		PoseShiftDelta:    0.28,
		AudioFactor:       3.0,
		MouthClosedGap:    0.08,
	},
}

func For(s model.Sensitivity) Thresholds {
	t, ok := table[s]
	if !ok {
		t = table[model.SensitivityMedium]
	}
	t.SlightDrift = t.LookAwayDeviation / 2
	return t
}

// AudioBaseline averages the first N samples, then freezes. The frozen mean
// is the ambient noise floor for the rest of the session.
type AudioBaseline struct {
	target int
	count  int
	sum    float64
	mean   float64
}

func NewAudioBaseline(samples int) *AudioBaseline {
	if samples <= 0 {
		samples = 15
	}
	return &AudioBaseline{target: samples}
}

func (b *AudioBaseline) Add(rms float64) {
	if b.Ready() {
		return
	}
	if rms < 0 {
		rms = 0
	}
	b.sum += rms
	b.count++
	if b.count >= b.target {
		b.mean = b.sum / float64(b.count)
	}
}

func (b *AudioBaseline) Ready() bool {
	return b.count >= b.target
}

func (b *AudioBaseline) Value() float64 {
	return b.mean
}

// Threshold combines the frozen floor with the sensitivity factor and an
// absolute minimum so near-silence never triggers.
func (b *AudioBaseline) Threshold(factor, minAbsolute float64) float64 {
	return math.Max(minAbsolute, b.mean*factor)
}

// VisualBaseline records the first stable single-face reading. Unlike the
// averaged audio floor this is a single sample; visual drift is evaluated as
// delta-from-baseline every tick, so one stable anchor is enough. If no face
// is ever seen the baseline stays unset and deviation checks are skipped
// while gross-absence detection keeps working.
type VisualBaseline struct {
	set       bool
	nose      model.Point
	eyeCenter model.Point
	eyeDist   float64
}

func (b *VisualBaseline) Observe(v model.VisualSample) {
	if b.set || v.FaceCount != 1 {
		return
	}
	dist := distance(v.LeftEye, v.RightEye)
	if dist <= 0 {
		return
	}
	b.set = true
	b.nose = v.NoseTip
	b.eyeCenter = v.EyeCenter()
	b.eyeDist = dist
}

func (b *VisualBaseline) Ready() bool {
	return b.set
}

// NoseDeviation is the nose-tip offset from rest, in eye-distance units.
func (b *VisualBaseline) NoseDeviation(v model.VisualSample) float64 {
	if !b.set || b.eyeDist <= 0 {
		return 0
	}
	return distance(v.NoseTip, b.nose) / b.eyeDist
}

// EyeShift is the eye-center offset from rest, in eye-distance units. Used
// for pose-change detection (the whole subject moving in frame).
func (b *VisualBaseline) EyeShift(v model.VisualSample) float64 {
	if !b.set || b.eyeDist <= 0 {
		return 0
	}
	return distance(v.EyeCenter(), b.eyeCenter) / b.eyeDist
}

// MouthClosed reports whether the lip gap is under the closed-mouth
// threshold, in eye-distance units.
func (b *VisualBaseline) MouthClosed(v model.VisualSample, maxGap float64) bool {
	dist := b.eyeDist
	if dist <= 0 {
		dist = distance(v.LeftEye, v.RightEye)
	}
	if dist <= 0 {
		return false
	}
	return v.MouthGap()/dist < maxGap
}

// RollAngle is the eye-line tilt in degrees.
func RollAngle(v model.VisualSample) float64 {
	dx := v.RightEye.X - v.LeftEye.X
	dy := v.RightEye.Y - v.LeftEye.Y
	if dx == 0 && dy == 0 {
		return 0
	}
	return math.Abs(math.Atan2(dy, dx) * 180 / math.Pi)
}

func distance(a, b model.Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}
