package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"examguard/internal/config"
	"examguard/internal/model"
	"examguard/internal/normalize"
)

// Parser decodes one capture-client sample from its JSON wire form. Every
// transport (REST, TCP stream, Kafka, replay files) carries the same shape,
// one JSON object per sample.
type Parser struct {
	loc *time.Location
}

func NewParser(cfg config.ParserConfig) (*Parser, error) {
	loc := time.UTC
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" && !strings.EqualFold(tz, "UTC") {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("load parser timezone: %w", err)
		}
		loc = l
	}
	return &Parser{loc: loc}, nil
}

func (p *Parser) Location() *time.Location {
	return p.loc
}

type wireSample struct {
	SessionUUID string              `json:"session_uuid"`
	Kind        string              `json:"kind"`
	Timestamp   any                 `json:"timestamp"`
	Visual      *model.VisualSample `json:"visual"`
	Audio       *model.AudioSample  `json:"audio"`
	Input       *model.InputEvent   `json:"input"`
}

func (p *Parser) ParseLine(line string) (*normalize.SampleFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	return p.ParseBytes([]byte(trim))
}

func (p *Parser) ParseBytes(data []byte) (*normalize.SampleFields, error) {
	var ws wireSample
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, err
	}
	return &normalize.SampleFields{
		SessionUUID: ws.SessionUUID,
		Kind:        ws.Kind,
		Timestamp:   timestampString(ws.Timestamp),
		Visual:      ws.Visual,
		Audio:       ws.Audio,
		Input:       ws.Input,
	}, nil
}

func (p *Parser) ParseMap(obj map[string]interface{}) (*normalize.SampleFields, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return p.ParseBytes(data)
}

// timestampString flattens the wire timestamp, which clients send either as
// a string or as unix seconds/milliseconds.
func timestampString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatInt(int64(t), 10)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
