package batch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"examguard/internal/config"
	"examguard/internal/detect"
	"examguard/internal/model"
)

const dedupeCacheSize = 4096

// Sink delivers a flushed batch. Delivery is best-effort: the batcher logs
// failures and discards the batch, it never retries.
type Sink interface {
	SendBatch(ctx context.Context, events []model.ProctorEvent) error
}

// Batcher is the transport-layer throttle: an independent per-event-type
// cooldown on top of the detector's severity windows, a duplicate cache for
// events delivered twice through different ingest paths, and size/age
// bounded batching.
type Batcher struct {
	logger *slog.Logger
	cfg    config.BatchConfig
	sink   Sink

	cooldown *detect.Cooldown
	dedupe   *expirable.LRU[string, struct{}]

	mu     sync.Mutex
	buf    []model.ProctorEvent
	timer  *time.Timer
	closed bool

	wg sync.WaitGroup
}

func NewBatcher(cfg config.BatchConfig, sink Sink, logger *slog.Logger) *Batcher {
	return &Batcher{
		logger:   logger,
		cfg:      cfg,
		sink:     sink,
		cooldown: detect.NewCooldown(),
		dedupe:   expirable.NewLRU[string, struct{}](dedupeCacheSize, nil, cfg.DedupeWindow),
	}
}

// Add enqueues an event that survived the detector layer. Returns false if
// the transport cooldown or duplicate cache suppressed it.
func (b *Batcher) Add(ev model.ProctorEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	// A rejected event must not consume a cooldown slot or seed the
	// duplicate cache, so the closed check comes first.
	if b.closed {
		return false
	}
	if cd, ok := b.cfg.TypeCooldowns[string(ev.Type)]; ok {
		if !b.cooldown.Allow(string(ev.Type), ev.Timestamp, cd) {
			return false
		}
	}
	if b.cfg.DedupeWindow > 0 {
		key := hashEvent(ev)
		if _, seen := b.dedupe.Get(key); seen {
			return false
		}
		b.dedupe.Add(key, struct{}{})
	}
	b.buf = append(b.buf, ev)
	if len(b.buf) >= b.cfg.Size {
		b.flushLocked()
		return true
	}
	// Age bound: the clock starts at the first unflushed event.
	if b.timer == nil {
		b.timer = time.AfterFunc(b.cfg.FlushInterval, b.flushOnTimer)
	}
	return true
}

func (b *Batcher) flushOnTimer() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

// flushLocked hands the buffered events to the sink on a separate goroutine
// so a slow or failed delivery never stalls the detection path.
func (b *Batcher) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.buf) == 0 {
		return
	}
	events := b.buf
	b.buf = nil
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.deliver(events)
	}()
}

func (b *Batcher) deliver(events []model.ProctorEvent) {
	if b.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.sink.SendBatch(ctx, events); err != nil {
		// Fire and forget: the batch is lost, monitoring continues.
		if b.logger != nil {
			b.logger.Warn("batch flush failed, discarding",
				"events", len(events), "err", err)
		}
	}
}

// Pending reports the number of buffered, unflushed events.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Close force-flushes any pending events synchronously and stops the timer.
// The batcher accepts no events afterwards.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	events := b.buf
	b.buf = nil
	b.mu.Unlock()

	if len(events) > 0 {
		b.deliver(events)
	}
	b.wg.Wait()
}

func hashEvent(ev model.ProctorEvent) string {
	h := sha256.Sum256([]byte(
		ev.SessionUUID + "|" + string(ev.Type) + "|" + ev.Subtype + "|" +
			string(ev.Severity) + "|" + ev.Timestamp.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h[:])
}
