package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"examguard/internal/batch"
	"examguard/internal/behavior"
	"examguard/internal/config"
	"examguard/internal/detect"
	"examguard/internal/events"
	"examguard/internal/flags"
	"examguard/internal/model"
	"examguard/internal/normalize"
	"examguard/internal/scoring"
	"examguard/internal/stats"
	"examguard/internal/storage"
)

var ErrSessionNotFound = errors.New("session not found")

const persistTimeout = 5 * time.Second

// Manager owns the active proctoring sessions. Each session gets one
// dispatcher goroutine that feeds its detector and behavior monitor, so the
// per-session state needs no locking.
type Manager struct {
	cfg    *config.Manager
	logger *slog.Logger
	sink   batch.Sink
	flags  *flags.Store
	events *events.Store
	stats  *stats.Store
	store  storage.Store

	mu      sync.RWMutex
	running map[string]*runner
	ended   map[string]model.Session
}

type StartOptions struct {
	UserID      string            `json:"user_id"`
	CohortID    string            `json:"cohort_id,omitempty"`
	TaskID      string            `json:"task_id,omitempty"`
	Sensitivity model.Sensitivity `json:"sensitivity,omitempty"`
	Modalities  *model.Modalities `json:"modalities,omitempty"`
}

func NewManager(cfg *config.Manager, sink batch.Sink, flagStore *flags.Store, eventStore *events.Store, statStore *stats.Store, store storage.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		cfg:     cfg,
		logger:  logger,
		sink:    sink,
		flags:   flagStore,
		events:  eventStore,
		stats:   statStore,
		store:   store,
		running: make(map[string]*runner),
		ended:   make(map[string]model.Session),
	}
}

type runner struct {
	session  model.Session
	in       chan model.Sample
	cancel   context.CancelFunc
	done     chan struct{}
	detector *detect.Detector
	behavior *behavior.Monitor
	batcher  *batch.Batcher
	leases   *Leases
	manager  *Manager
}

func (m *Manager) Start(ctx context.Context, opts StartOptions) (model.Session, error) {
	if opts.UserID == "" {
		return model.Session{}, errors.New("user_id required")
	}
	cfg := m.cfg.Get()
	now := time.Now().UTC()

	sensitivity := opts.Sensitivity
	if sensitivity == "" {
		sensitivity = cfg.Detection.Sensitivity
	}
	switch sensitivity {
	case model.SensitivityLow, model.SensitivityMedium, model.SensitivityHigh:
	default:
		return model.Session{}, errors.New("invalid sensitivity")
	}
	modalities := model.Modalities{Face: true, Pose: true, Audio: true, Input: true}
	if opts.Modalities != nil {
		modalities = *opts.Modalities
	}

	sess := model.Session{
		UUID:        uuid.NewString(),
		UserID:      opts.UserID,
		CohortID:    opts.CohortID,
		TaskID:      opts.TaskID,
		StartedAt:   now,
		Status:      model.SessionActive,
		Sensitivity: sensitivity,
		Modalities:  modalities,
	}

	detection := cfg.Detection
	detection.Sensitivity = sensitivity

	r := &runner{
		session: sess,
		in:      make(chan model.Sample, 256),
		done:    make(chan struct{}),
		leases:  &Leases{},
		manager: m,
	}
	r.batcher = batch.NewBatcher(cfg.Batch, m.sink, m.logger)
	r.detector = detect.NewDetector(sess, detection, now, r.emit, m.logger)
	r.behavior = behavior.NewMonitor(sess, cfg.Behavior, detection.Cooldowns, now, r.emit, m.logger)

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	m.mu.Lock()
	m.running[sess.UUID] = r
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveSession(ctx, sess); err != nil {
			m.logger.Warn("session persist failed", "session_uuid", sess.UUID, "err", err)
		}
	}
	m.logger.Info("session started", "session_uuid", sess.UUID, "user_id", sess.UserID, "sensitivity", sess.Sensitivity)

	go r.run(runCtx, cfg)
	return sess, nil
}

// Dispatch routes one sample to its session. Returns false when the session
// is unknown or its channel is full.
func (m *Manager) Dispatch(sample model.Sample) bool {
	m.mu.RLock()
	r, ok := m.running[sample.SessionUUID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case r.in <- sample:
		return true
	default:
		m.logger.Warn("session channel full, dropping sample", "session_uuid", sample.SessionUUID, "kind", sample.Kind)
		return false
	}
}

func (r *runner) run(ctx context.Context, cfg *config.Config) {
	defer close(r.done)
	tick := time.NewTicker(housekeepingTick(cfg.Behavior))
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-r.in:
			r.handle(s, cfg)
		case now := <-tick.C:
			// Anomaly polls fire on schedule even when the subject has
			// stopped producing input.
			ts := now.UTC()
			r.behavior.MaybePoll(ts)
			r.manager.stats.Update(r.session.UUID, r.behavior.Stats(ts))
		}
	}
}

// housekeepingTick paces the behavior polls at half the shortest surface
// period, bounded to keep idle sessions cheap.
func housekeepingTick(cfg config.BehaviorConfig) time.Duration {
	tick := cfg.TextPollInterval
	if cfg.CodePollInterval > 0 && cfg.CodePollInterval < tick {
		tick = cfg.CodePollInterval
	}
	tick /= 2
	if tick < 20*time.Millisecond {
		tick = 20 * time.Millisecond
	}
	if tick > 5*time.Second {
		tick = 5 * time.Second
	}
	return tick
}

func (r *runner) handle(s model.Sample, cfg *config.Config) {
	// Replayed samples carry authoritative recorded timestamps; clamping
	// them to the engine clock would collapse the inter-frame spacing.
	if s.Source != model.SourceReplay {
		now := time.Now().UTC()
		s.Timestamp = normalize.ClampTimestamp(s.Timestamp, now, cfg.Detection.MaxClockSkew, cfg.Detection.MaxFutureSkew)
	}

	switch s.Kind {
	case model.SampleVisual, model.SampleAudio:
		r.detector.HandleSample(s)
	case model.SampleInput:
		if !r.session.Modalities.Input || s.Input == nil {
			return
		}
		// A real user gesture lifts a suspended audio context.
		if r.detector.AudioSuspended() && isGesture(s.Input.Kind) {
			r.detector.ResumeAudio(s.Timestamp)
		}
		r.behavior.HandleInput(s.Timestamp, *s.Input)
		r.manager.stats.Update(r.session.UUID, r.behavior.Stats(s.Timestamp))
	}
}

func isGesture(kind model.InputKind) bool {
	switch kind {
	case model.InputKeyDown, model.InputPointer:
		return true
	}
	return false
}

// emit runs on the session dispatcher goroutine. Every detector and monitor
// event funnels through here: live feed, flag aggregation, batch queue,
// durable store.
func (r *runner) emit(ev model.ProctorEvent) {
	m := r.manager
	m.events.Add(ev)
	if flag := m.flags.Observe(ev); flag != nil {
		m.logger.Warn("integrity flag raised",
			"session_uuid", flag.SessionUUID,
			"flag_type", flag.FlagType,
			"confidence", flag.Confidence)
		if m.store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			if err := m.store.SaveFlag(ctx, *flag); err != nil {
				m.logger.Warn("flag persist failed", "flag_id", flag.ID, "err", err)
			}
			cancel()
		}
	}
	r.batcher.Add(ev)
	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := m.store.SaveEvent(ctx, ev); err != nil {
			m.logger.Warn("event persist failed", "session_uuid", ev.SessionUUID, "err", err)
		}
		cancel()
	}
}

// Stop ends a session: the dispatcher drains, media leases are released,
// the batcher flushes, and the final status is recorded. Safe to call with
// any terminal status.
func (m *Manager) Stop(ctx context.Context, sessionUUID string, status model.SessionStatus) (model.Session, error) {
	switch status {
	case model.SessionCompleted, model.SessionTerminated, model.SessionSuspended:
	default:
		return model.Session{}, errors.New("invalid terminal status")
	}
	m.mu.Lock()
	r, ok := m.running[sessionUUID]
	if ok {
		delete(m.running, sessionUUID)
	}
	m.mu.Unlock()
	if !ok {
		return model.Session{}, ErrSessionNotFound
	}

	r.cancel()
	<-r.done
	r.leases.StopAll()
	r.batcher.Close()

	now := time.Now().UTC()
	m.stats.Update(sessionUUID, r.behavior.Stats(now))

	r.session.Status = status
	r.session.EndedAt = now
	m.mu.Lock()
	m.ended[sessionUUID] = r.session
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.UpdateSessionStatus(ctx, sessionUUID, status, now); err != nil {
			m.logger.Warn("session status persist failed", "session_uuid", sessionUUID, "err", err)
		}
	}
	m.logger.Info("session stopped", "session_uuid", sessionUUID, "status", status)
	return r.session, nil
}

func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	uuids := make([]string, 0, len(m.running))
	for id := range m.running {
		uuids = append(uuids, id)
	}
	m.mu.RUnlock()
	for _, id := range uuids {
		if _, err := m.Stop(ctx, id, model.SessionTerminated); err != nil && !errors.Is(err, ErrSessionNotFound) {
			m.logger.Warn("session stop failed", "session_uuid", id, "err", err)
		}
	}
}

// AttachTrack leases a media track to a running session.
func (m *Manager) AttachTrack(sessionUUID string, t Track) error {
	m.mu.RLock()
	r, ok := m.running[sessionUUID]
	m.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}
	r.leases.Add(t)
	return nil
}

func (m *Manager) Get(sessionUUID string) (model.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.running[sessionUUID]; ok {
		return r.session, true
	}
	if sess, ok := m.ended[sessionUUID]; ok {
		return sess, true
	}
	return model.Session{}, false
}

func (m *Manager) List() []model.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Session, 0, len(m.running)+len(m.ended))
	for _, r := range m.running {
		out = append(out, r.session)
	}
	for _, sess := range m.ended {
		out = append(out, sess)
	}
	return out
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.running)
}

// Analysis recomputes the session aggregate from the event log. The durable
// store is authoritative when configured; the in-memory feed covers the rest.
func (m *Manager) Analysis(ctx context.Context, sessionUUID string) (model.SessionAnalysis, error) {
	if _, ok := m.Get(sessionUUID); !ok {
		return model.SessionAnalysis{}, ErrSessionNotFound
	}
	var evs []model.ProctorEvent
	if m.store != nil {
		loaded, err := m.store.LoadEvents(ctx, sessionUUID)
		if err != nil {
			m.logger.Warn("event load failed, falling back to live feed", "session_uuid", sessionUUID, "err", err)
			evs = m.events.BySession(sessionUUID)
		} else {
			evs = loaded
		}
	} else {
		evs = m.events.BySession(sessionUUID)
	}
	return scoring.Analyze(sessionUUID, evs, m.flags.BySession(sessionUUID)), nil
}
