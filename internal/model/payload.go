package model

import (
	"encoding/json"
	"fmt"
)

// Payload is the typed per-event-type data variant. Each event type carries
// exactly one payload shape; DecodePayload restores the concrete type from
// stored or wire JSON.
type Payload interface {
	payload()
}

type FacePayload struct {
	FaceCount      int `json:"face_count"`
	AbsentFrames   int `json:"absent_frames,omitempty"`
	RequiredFrames int `json:"required_frames,omitempty"`
}

type GazePayload struct {
	Reason    string  `json:"reason"`
	Deviation float64 `json:"deviation"`
	Roll      float64 `json:"roll"`
	Threshold float64 `json:"threshold"`
}

type MovementPayload struct {
	Delta     float64 `json:"delta"`
	Threshold float64 `json:"threshold"`
}

type AudioPayload struct {
	RMS       float64 `json:"rms"`
	Threshold float64 `json:"threshold"`
	Baseline  float64 `json:"baseline"`
	MouthGap  float64 `json:"mouth_gap"`
}

type InputPayload struct {
	Surface  string `json:"surface,omitempty"`
	Key      string `json:"key,omitempty"`
	Duration int64  `json:"duration_ms,omitempty"`
}

type PastePayload struct {
	Surface     string  `json:"surface"`
	Delta       int     `json:"delta"`
	PriorLength int     `json:"prior_length"`
	Ratio       float64 `json:"ratio"`
}

type BehaviorPayload struct {
	Surface   string  `json:"surface"`
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

func (FacePayload) payload()     {}
func (GazePayload) payload()     {}
func (MovementPayload) payload() {}
func (AudioPayload) payload()    {}
func (InputPayload) payload()    {}
func (PastePayload) payload()    {}
func (BehaviorPayload) payload() {}

func DecodePayload(t EventType, subtype string, raw []byte) (Payload, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	decode := func(v Payload) (Payload, error) {
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return v, nil
	}
	switch t {
	case EventFaceNotDetected, EventMultipleFaces:
		return decode(&FacePayload{})
	case EventLookingAway:
		return decode(&GazePayload{})
	case EventHeadMovement, EventPoseChange:
		return decode(&MovementPayload{})
	case EventSuspiciousActivity:
		if subtype == SubtypeLowFocus {
			return decode(&BehaviorPayload{})
		}
		return decode(&AudioPayload{})
	case EventClipboardSuspicious:
		return decode(&PastePayload{})
	case EventCopyPaste:
		// Direct clipboard gestures carry the input shape; only the
		// content-delta heuristic produces a PastePayload.
		return decode(&InputPayload{})
	case EventKeystrokeAnomaly, EventExcessiveTypingPause:
		return decode(&BehaviorPayload{})
	case EventTabSwitch, EventWindowBlur, EventDevtoolsOpened,
		EventScreenCaptureAttempt, EventCodeEditorInteraction,
		EventTextEditorInteraction:
		return decode(&InputPayload{})
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}
