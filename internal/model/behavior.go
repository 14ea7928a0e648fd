package model

import "time"

// BehaviorStats is the latest polled snapshot of input-surface behavior for
// one session, surfaced to dashboards alongside the event feed.
type BehaviorStats struct {
	SessionUUID  string    `json:"session_uuid"`
	Surface      string    `json:"surface"`
	Keystrokes   int       `json:"keystrokes"`
	TypingSpeed  float64   `json:"typing_speed"`
	Variance     float64   `json:"variance"`
	PauseCount   int       `json:"pause_count"`
	FocusPercent float64   `json:"focus_percent"`
	UpdatedAt    time.Time `json:"updated_at"`
}
