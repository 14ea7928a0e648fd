package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"examguard/internal/model"
)

// SampleFields is the loosely-typed intermediate produced by the ingest
// parsers before canonicalization.
type SampleFields struct {
	SessionUUID string
	Kind        string
	Timestamp   string
	Visual      *model.VisualSample
	Audio       *model.AudioSample
	Input       *model.InputEvent
	Source      string
}

func Normalize(fields SampleFields, loc *time.Location) (model.Sample, error) {
	uuid := strings.TrimSpace(fields.SessionUUID)
	if uuid == "" {
		return model.Sample{}, errors.New("sample missing session_uuid")
	}
	if loc == nil {
		loc = time.UTC
	}

	ts := time.Now().UTC()
	if fields.Timestamp != "" {
		parsed, err := ParseTimestamp(fields.Timestamp, loc)
		if err != nil {
			return model.Sample{}, fmt.Errorf("parse timestamp: %w", err)
		}
		ts = parsed.UTC()
	}

	kind := model.SampleKind(strings.ToLower(strings.TrimSpace(fields.Kind)))
	switch kind {
	case model.SampleVisual:
		if fields.Visual == nil {
			return model.Sample{}, errors.New("visual sample missing visual payload")
		}
	case model.SampleAudio:
		if fields.Audio == nil {
			return model.Sample{}, errors.New("audio sample missing audio payload")
		}
	case model.SampleInput:
		if fields.Input == nil {
			return model.Sample{}, errors.New("input sample missing input payload")
		}
	default:
		return model.Sample{}, fmt.Errorf("unknown sample kind %q", fields.Kind)
	}

	return model.Sample{
		SessionUUID: uuid,
		Kind:        kind,
		Timestamp:   ts,
		Visual:      fields.Visual,
		Audio:       fields.Audio,
		Input:       fields.Input,
		Source:      fields.Source,
	}, nil
}

// ClampTimestamp pulls wildly skewed capture timestamps back to the engine
// clock so window math stays sane.
func ClampTimestamp(ts, now time.Time, maxPast, maxFuture time.Duration) time.Time {
	if ts.IsZero() {
		return now
	}
	if maxPast > 0 && now.Sub(ts) > maxPast {
		return now
	}
	if maxFuture > 0 && ts.Sub(now) > maxFuture {
		return now
	}
	return ts
}

// Layouts without a zone suffix; values in these forms are interpreted in
// loc (UTC unless configured otherwise), matching the backend contract that
// zone-less timestamps mean UTC.
var zonelessLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05.000000",
}

var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
