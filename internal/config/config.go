package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"examguard/internal/model"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	Behavior  BehaviorConfig  `json:"behavior" yaml:"behavior"`
	Batch     BatchConfig     `json:"batch" yaml:"batch"`
	Backend   BackendConfig   `json:"backend" yaml:"backend"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Events    EventsConfig    `json:"events" yaml:"events"`
	Stats     StatsConfig     `json:"stats" yaml:"stats"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	Replay        ReplayConfig    `json:"replay" yaml:"replay"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	Parser        ParserConfig    `json:"parser" yaml:"parser"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type ReplayConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Files   []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type ParserConfig struct {
	Timezone string `json:"timezone" yaml:"timezone"`
}

type DetectionConfig struct {
	Sensitivity     model.Sensitivity `json:"sensitivity" yaml:"sensitivity"`
	TickMinInterval time.Duration     `json:"tick_min_interval" yaml:"tick_min_interval"`
	GracePeriod     time.Duration     `json:"grace_period" yaml:"grace_period"`
	Cooldowns       CooldownConfig    `json:"cooldowns" yaml:"cooldowns"`
	Audio           AudioConfig       `json:"audio" yaml:"audio"`
	MaxClockSkew    time.Duration     `json:"max_clock_skew" yaml:"max_clock_skew"`
	MaxFutureSkew   time.Duration     `json:"max_future_skew" yaml:"max_future_skew"`
}

// CooldownConfig is the detector-layer cooldown, keyed by (type, severity).
type CooldownConfig struct {
	High   time.Duration `json:"high" yaml:"high"`
	Medium time.Duration `json:"medium" yaml:"medium"`
	Low    time.Duration `json:"low" yaml:"low"`
}

func (c CooldownConfig) For(sev model.Severity) time.Duration {
	switch sev {
	case model.SeverityHigh:
		return c.High
	case model.SeverityMedium:
		return c.Medium
	default:
		return c.Low
	}
}

type AudioConfig struct {
	BaselineSamples int           `json:"baseline_samples" yaml:"baseline_samples"`
	MinRMS          float64       `json:"min_rms" yaml:"min_rms"`
	EscalateFactor  float64       `json:"escalate_factor" yaml:"escalate_factor"`
	SampleInterval  time.Duration `json:"sample_interval" yaml:"sample_interval"`
}

type BehaviorConfig struct {
	CodePollInterval time.Duration `json:"code_poll_interval" yaml:"code_poll_interval"`
	TextPollInterval time.Duration `json:"text_poll_interval" yaml:"text_poll_interval"`
	MaxIntervals     int           `json:"max_intervals" yaml:"max_intervals"`
	SpeedMax         float64       `json:"speed_max" yaml:"speed_max"`
	VarianceMax      float64       `json:"variance_max" yaml:"variance_max"`
	PauseGap         time.Duration `json:"pause_gap" yaml:"pause_gap"`
	PauseMax         int           `json:"pause_max" yaml:"pause_max"`
	FocusMin         float64       `json:"focus_min" yaml:"focus_min"`
	PasteDeltaCode   int           `json:"paste_delta_code" yaml:"paste_delta_code"`
	PasteDeltaText   int           `json:"paste_delta_text" yaml:"paste_delta_text"`
}

type BatchConfig struct {
	Size          int                      `json:"size" yaml:"size"`
	FlushInterval time.Duration            `json:"flush_interval" yaml:"flush_interval"`
	DedupeWindow  time.Duration            `json:"dedupe_window" yaml:"dedupe_window"`
	TypeCooldowns map[string]time.Duration `json:"type_cooldowns" yaml:"type_cooldowns"`
}

type BackendConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type EventsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type StatsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			Replay:        ReplayConfig{Enabled: false},
			Kafka:         KafkaConfig{Enabled: false},
			Parser:        ParserConfig{Timezone: "UTC"},
		},
		Detection: DetectionConfig{
			Sensitivity:     model.SensitivityMedium,
			TickMinInterval: 33 * time.Millisecond,
			GracePeriod:     1500 * time.Millisecond,
			Cooldowns: CooldownConfig{
				High:   1 * time.Second,
				Medium: 3 * time.Second,
				Low:    5 * time.Second,
			},
			Audio: AudioConfig{
				BaselineSamples: 15,
				MinRMS:          0.01,
				EscalateFactor:  1.5,
				SampleInterval:  100 * time.Millisecond,
			},
			MaxClockSkew:  2 * time.Second,
			MaxFutureSkew: 2 * time.Second,
		},
		Behavior: BehaviorConfig{
			CodePollInterval: 30 * time.Second,
			TextPollInterval: 45 * time.Second,
			MaxIntervals:     512,
			SpeedMax:         150,
			VarianceMax:      500,
			PauseGap:         10 * time.Second,
			PauseMax:         5,
			FocusMin:         0.6,
			PasteDeltaCode:   50,
			PasteDeltaText:   100,
		},
		Batch: BatchConfig{
			Size:          8,
			FlushInterval: 3 * time.Second,
			DedupeWindow:  1 * time.Second,
			TypeCooldowns: defaultTypeCooldowns(),
		},
		Backend: BackendConfig{Enabled: false, BaseURL: "http://localhost:8000", Timeout: 10 * time.Second},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:examguard.db?_pragma=busy_timeout(5000)"},
		Events:  EventsConfig{StoreLimit: 1000},
		Stats:   StatsConfig{StoreLimit: 5000},
	}
}

// Transport-layer per-type cooldowns, independent of the detector's
// severity-keyed windows. Both are enforced; the narrower one decides.
func defaultTypeCooldowns() map[string]time.Duration {
	return map[string]time.Duration{
		string(model.EventFaceNotDetected):       2 * time.Second,
		string(model.EventMultipleFaces):         500 * time.Millisecond,
		string(model.EventLookingAway):           2 * time.Second,
		string(model.EventHeadMovement):          5 * time.Second,
		string(model.EventPoseChange):            5 * time.Second,
		string(model.EventSuspiciousActivity):    3 * time.Second,
		string(model.EventTabSwitch):             1 * time.Second,
		string(model.EventWindowBlur):            1 * time.Second,
		string(model.EventCopyPaste):             500 * time.Millisecond,
		string(model.EventClipboardSuspicious):   500 * time.Millisecond,
		string(model.EventKeystrokeAnomaly):      5 * time.Second,
		string(model.EventExcessiveTypingPause):  5 * time.Second,
		string(model.EventDevtoolsOpened):        1 * time.Second,
		string(model.EventScreenCaptureAttempt):  500 * time.Millisecond,
		string(model.EventCodeEditorInteraction): 2 * time.Second,
		string(model.EventTextEditorInteraction): 2 * time.Second,
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = "UTC"
	}
	if cfg.Detection.Sensitivity == "" {
		cfg.Detection.Sensitivity = model.SensitivityMedium
	}
	if cfg.Detection.TickMinInterval <= 0 {
		cfg.Detection.TickMinInterval = 33 * time.Millisecond
	}
	if cfg.Detection.Cooldowns.High <= 0 {
		cfg.Detection.Cooldowns.High = 1 * time.Second
	}
	if cfg.Detection.Cooldowns.Medium <= 0 {
		cfg.Detection.Cooldowns.Medium = 3 * time.Second
	}
	if cfg.Detection.Cooldowns.Low <= 0 {
		cfg.Detection.Cooldowns.Low = 5 * time.Second
	}
	if cfg.Detection.Audio.BaselineSamples <= 0 {
		cfg.Detection.Audio.BaselineSamples = 15
	}
	if cfg.Detection.Audio.EscalateFactor <= 1 {
		cfg.Detection.Audio.EscalateFactor = 1.5
	}
	if cfg.Behavior.MaxIntervals <= 0 {
		cfg.Behavior.MaxIntervals = 512
	}
	if cfg.Batch.Size <= 0 {
		cfg.Batch.Size = 8
	}
	if cfg.Batch.FlushInterval <= 0 {
		cfg.Batch.FlushInterval = 3 * time.Second
	}
	if len(cfg.Batch.TypeCooldowns) == 0 {
		cfg.Batch.TypeCooldowns = defaultTypeCooldowns()
	}
	if cfg.Events.StoreLimit <= 0 {
		cfg.Events.StoreLimit = 1000
	}
	if cfg.Stats.StoreLimit <= 0 {
		cfg.Stats.StoreLimit = 5000
	}
}

func Validate(cfg *Config) error {
	switch cfg.Detection.Sensitivity {
	case model.SensitivityLow, model.SensitivityMedium, model.SensitivityHigh:
	default:
		return fmt.Errorf("detection.sensitivity must be low, medium or high, got %q", cfg.Detection.Sensitivity)
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.Replay.Enabled && len(cfg.Ingest.Replay.Files) == 0 {
		return errors.New("ingest.replay.files required when ingest.replay.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Backend.Enabled && cfg.Backend.BaseURL == "" {
		return errors.New("backend.base_url required when backend.enabled is true")
	}
	if cfg.Detection.GracePeriod < 0 {
		return errors.New("detection.grace_period must be >= 0")
	}
	if cfg.Detection.Audio.MinRMS < 0 {
		return errors.New("detection.audio.min_rms must be >= 0")
	}
	if cfg.Behavior.FocusMin < 0 || cfg.Behavior.FocusMin > 1 {
		return errors.New("behavior.focus_min must be in [0,1]")
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps a fixed config with no backing file. Used by tests
// and embedded callers.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
		if info, err := os.Stat(m.path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	m.cfg.Store(cfg)
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
