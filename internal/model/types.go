package model

import "time"

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities for cooldown and scoring decisions.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

type EventType string

const (
	EventFaceNotDetected       EventType = "face_not_detected"
	EventMultipleFaces         EventType = "multiple_faces"
	EventLookingAway           EventType = "looking_away"
	EventHeadMovement          EventType = "head_movement"
	EventPoseChange            EventType = "pose_change"
	EventSuspiciousActivity    EventType = "suspicious_activity"
	EventTabSwitch             EventType = "tab_switch"
	EventWindowBlur            EventType = "window_blur"
	EventCopyPaste             EventType = "copy_paste"
	EventClipboardSuspicious   EventType = "clipboard_suspicious"
	EventKeystrokeAnomaly      EventType = "keystroke_pattern_anomaly"
	EventExcessiveTypingPause  EventType = "excessive_typing_pause"
	EventDevtoolsOpened        EventType = "devtools_opened"
	EventScreenCaptureAttempt  EventType = "screen_capture_attempt"
	EventCodeEditorInteraction EventType = "code_editor_interaction"
	EventTextEditorInteraction EventType = "text_editor_interaction"
)

const (
	SubtypeBackgroundNoise = "background_noise"
	SubtypeLowFocus        = "low_focus_percentage"
)

type ProctorEvent struct {
	SessionUUID string    `json:"session_uuid"`
	UserID      string    `json:"user_id,omitempty"`
	Type        EventType `json:"event_type"`
	Subtype     string    `json:"event_subtype,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Severity    Severity  `json:"severity"`
	Data        Payload   `json:"data,omitempty"`
	Flagged     bool      `json:"flagged"`
}

// Key identifies the cooldown bucket an event belongs to.
func (e ProctorEvent) Key() string {
	return string(e.Type) + "|" + string(e.Severity)
}

type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionCompleted  SessionStatus = "completed"
	SessionTerminated SessionStatus = "terminated"
	SessionSuspended  SessionStatus = "suspended"
)

type Session struct {
	UUID        string        `json:"uuid"`
	UserID      string        `json:"user_id"`
	CohortID    string        `json:"cohort_id,omitempty"`
	TaskID      string        `json:"task_id,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     time.Time     `json:"ended_at,omitzero"`
	Status      SessionStatus `json:"status"`
	Sensitivity Sensitivity   `json:"sensitivity"`
	Modalities  Modalities    `json:"modalities"`
}

type Modalities struct {
	Face  bool `json:"face"`
	Pose  bool `json:"pose"`
	Audio bool `json:"audio"`
	Input bool `json:"input"`
}

type ReviewerDecision string

const (
	DecisionPending   ReviewerDecision = "pending"
	DecisionConfirmed ReviewerDecision = "confirmed"
	DecisionDismissed ReviewerDecision = "dismissed"
	DecisionEscalated ReviewerDecision = "escalated"
)

type IntegrityFlag struct {
	ID          string           `json:"id"`
	SessionUUID string           `json:"session_uuid"`
	FlagType    EventType        `json:"flag_type"`
	Confidence  float64          `json:"confidence_score"`
	Evidence    []string         `json:"evidence"`
	Decision    ReviewerDecision `json:"reviewer_decision"`
	CreatedAt   time.Time        `json:"created_at"`
	Manual      bool             `json:"manual"`
}

type Recommendation string

const (
	RecommendPass        Recommendation = "pass"
	RecommendReview      Recommendation = "review"
	RecommendInvestigate Recommendation = "investigate"
	RecommendFail        Recommendation = "fail"
)

type SessionAnalysis struct {
	SessionUUID    string            `json:"session_uuid"`
	TotalEvents    int               `json:"total_events"`
	FlaggedEvents  int               `json:"flagged_events"`
	ByType         map[EventType]int `json:"events_by_type"`
	BySeverity     map[Severity]int  `json:"events_by_severity"`
	IntegrityScore float64           `json:"integrity_score"`
	FlagCount      int               `json:"flag_count"`
	Recommendation Recommendation    `json:"recommendation"`
}
