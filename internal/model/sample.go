package model

import "time"

type SampleKind string

const (
	SampleVisual SampleKind = "visual"
	SampleAudio  SampleKind = "audio"
	SampleInput  SampleKind = "input"
)

// SourceReplay marks samples read back from recorded capture files. Their
// timestamps are authoritative and exempt from clock-skew clamping.
const SourceReplay = "replay"

// Sample is one raw per-tick measurement from a capture client, tagged with
// the session it belongs to. Exactly one of Visual/Audio/Input is set,
// matching Kind.
type Sample struct {
	SessionUUID string        `json:"session_uuid"`
	Kind        SampleKind    `json:"kind"`
	Timestamp   time.Time     `json:"timestamp"`
	Visual      *VisualSample `json:"visual,omitempty"`
	Audio       *AudioSample  `json:"audio,omitempty"`
	Input       *InputEvent   `json:"input,omitempty"`
	Source      string        `json:"source,omitempty"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// VisualSample carries the per-frame output of the external landmark model.
// Coordinates are normalized to [0,1] frame space.
type VisualSample struct {
	FaceCount int   `json:"face_count"`
	LeftEye   Point `json:"left_eye"`
	RightEye  Point `json:"right_eye"`
	NoseTip   Point `json:"nose_tip"`
	UpperLip  Point `json:"upper_lip"`
	LowerLip  Point `json:"lower_lip"`
}

func (v VisualSample) EyeCenter() Point {
	return Point{X: (v.LeftEye.X + v.RightEye.X) / 2, Y: (v.LeftEye.Y + v.RightEye.Y) / 2}
}

// MouthGap is the vertical lip distance, used by the closed-mouth heuristic.
func (v VisualSample) MouthGap() float64 {
	gap := v.LowerLip.Y - v.UpperLip.Y
	if gap < 0 {
		return -gap
	}
	return gap
}

type AudioSample struct {
	RMS       float64 `json:"rms"`
	Suspended bool    `json:"suspended,omitempty"`
}

type InputKind string

const (
	InputKeyDown       InputKind = "keydown"
	InputKeyUp         InputKind = "keyup"
	InputFocus         InputKind = "focus"
	InputBlur          InputKind = "blur"
	InputTabSwitch     InputKind = "tab_switch"
	InputCopy          InputKind = "copy"
	InputPaste         InputKind = "paste"
	InputCut           InputKind = "cut"
	InputContentChange InputKind = "content_change"
	InputDevtools      InputKind = "devtools"
	InputScreenCapture InputKind = "screen_capture"
	InputPointer       InputKind = "pointer"
)

type InputEvent struct {
	Kind          InputKind `json:"kind"`
	Surface       string    `json:"surface,omitempty"`
	Key           string    `json:"key,omitempty"`
	ContentLength int       `json:"content_length,omitempty"`
	DeltaLength   int       `json:"delta_length,omitempty"`
}

const (
	SurfaceCode = "code"
	SurfaceText = "text"
)
