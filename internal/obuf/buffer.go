package obuf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-node/internal/nvstore"
	"github.com/nerrad567/gray-logic-node/internal/telemetry"
)

// Durable storage keys for the ring.
const (
	nsBuf   = "obuf"
	keyHead = "head"
	keyTail = "tail"
)

const (
	// defaultCapacity holds a day of samples at one reading per 15
	// minutes.
	defaultCapacity = 96

	// defaultYield is the pause between drained entries, long enough
	// for the transport to breathe without stretching the drain.
	defaultYield = 5 * time.Millisecond
)

// Sample is one buffered inside reading, stored in canonical units.
type Sample struct {
	// TS is the reading time in epoch seconds.
	TS int64 `json:"ts"`

	TempC float64 `json:"temp_c"`
	Hum   float64 `json:"hum"`
}

// historyRecord is the wire form of a drained sample. Temperature goes
// out in Fahrenheit; the hub's history consumers have always taken it
// that way.
type historyRecord struct {
	TS   int64   `json:"ts"`
	Temp float64 `json:"temp"`
	Hum  float64 `json:"hum"`
}

// Budget bounds one drain call. Both limits must be positive for any
// entry to move; a zero budget admits nothing. Budgets are computed
// fresh per call and never carried across wakes.
type Budget struct {
	MaxDuration time.Duration
	MaxBytes    int
}

// DrainResult reports what a drain call moved.
type DrainResult struct {
	// Published is the number of samples delivered to the broker.
	Published int

	// Bytes is the approximate wire size charged against the budget:
	// topic plus payload per published sample.
	Bytes int

	// Skipped counts entries passed over because they were missing or
	// unreadable.
	Skipped int
}

// Publisher is the outbound surface a drain needs. Satisfied by
// *session.Manager.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
	IsConnected() bool
}

// Options configures a Buffer.
type Options struct {
	// Store holds the ring; required.
	Store *nvstore.Store

	// Config supplies capacity and topic identity; required.
	Config *config.Config

	Logger *logging.Logger

	// Yield overrides the inter-entry pause. 0 selects the default.
	Yield time.Duration
}

// Buffer is a bounded store-and-forward ring for inside readings taken
// while the node has no session.
//
// The ring lives in the durable store: samples at obuf/s<seq>, bounds
// at obuf/head and obuf/tail. head is the next write slot and tail the
// oldest unread one, both monotonically increasing; occupancy is
// head-tail and an entry for seq exists iff tail <= seq < head.
//
// Methods are not safe for concurrent use; the episode runner drives a
// Buffer from a single goroutine.
type Buffer struct {
	store *nvstore.Store
	log   *logging.Logger
	topic string
	cap   uint64
	yield time.Duration
}

// New creates a Buffer over the durable store.
func New(opts Options) (*Buffer, error) {
	if opts.Store == nil {
		return nil, errors.New("obuf: store is required")
	}
	if opts.Config == nil {
		return nil, errors.New("obuf: config is required")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	capacity := opts.Config.Buffer.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	yield := opts.Yield
	if yield <= 0 {
		yield = defaultYield
	}
	topics := mqtt.Topics{
		Base:   opts.Config.Node.BaseTopic,
		NodeID: opts.Config.Node.ID,
	}
	return &Buffer{
		store: opts.Store,
		log:   log.With("component", "obuf"),
		topic: topics.InsideHistory(),
		cap:   uint64(capacity), //nolint:gosec // capacity is validated positive
		yield: yield,
	}, nil
}

// Enqueue admits a sample unconditionally. At capacity the oldest
// entry is evicted first; the caller is never blocked or refused, only
// store I/O failures surface.
func (b *Buffer) Enqueue(ctx context.Context, s Sample) error {
	head, tail, err := b.bounds(ctx)
	if err != nil {
		return err
	}

	if head-tail >= b.cap {
		if err := b.store.Delete(ctx, nsBuf, seqKey(tail)); err != nil {
			return fmt.Errorf("obuf: evicting entry %d: %w", tail, err)
		}
		if err := b.store.PutUint64(ctx, nsBuf, keyTail, tail+1); err != nil {
			return fmt.Errorf("obuf: persisting tail: %w", err)
		}
	}

	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("obuf: encoding sample: %w", err)
	}
	if err := b.store.PutRecord(ctx, nsBuf, seqKey(head), payload); err != nil {
		return fmt.Errorf("obuf: writing entry %d: %w", head, err)
	}
	if err := b.store.PutUint64(ctx, nsBuf, keyHead, head+1); err != nil {
		return fmt.Errorf("obuf: persisting head: %w", err)
	}
	return nil
}

// Drain publishes buffered samples oldest-first until the backlog, the
// budget or the session runs out. Tail is persisted after every entry,
// so a crash mid-drain never regresses it; a crash between publish and
// persist replays that one sample next time. Running out of budget is
// success, the remainder waits for the next call.
//
// Returns the moved counts plus an error when a publish or store
// operation failed; the result is valid either way.
func (b *Buffer) Drain(ctx context.Context, pub Publisher, budget Budget) (DrainResult, error) {
	var res DrainResult

	head, tail, err := b.bounds(ctx)
	if err != nil {
		return res, err
	}
	start := time.Now()

	for tail < head {
		if !pub.IsConnected() {
			b.log.Warn("session disconnected, stopping drain",
				"published", res.Published, "remaining", head-tail)
			return res, nil
		}
		if time.Since(start) >= budget.MaxDuration || res.Bytes >= budget.MaxBytes {
			break
		}

		raw, err := b.store.GetRecord(ctx, nsBuf, seqKey(tail))
		switch {
		case err == nil:
			payload, ok := b.wirePayload(raw, tail)
			if !ok {
				res.Skipped++
				break
			}
			if err := pub.Publish(b.topic, payload, false); err != nil {
				// Tail stays at the last persisted position; this
				// entry goes out again on the next drain.
				return res, fmt.Errorf("obuf: publishing entry %d: %w", tail, err)
			}
			res.Published++
			res.Bytes += len(b.topic) + len(payload)
		case errors.Is(err, nvstore.ErrNotFound), errors.Is(err, nvstore.ErrCorrupt):
			b.log.Warn("skipping unreadable entry", "seq", tail, "error", err)
			res.Skipped++
		default:
			return res, fmt.Errorf("obuf: reading entry %d: %w", tail, err)
		}

		if err := b.store.Delete(ctx, nsBuf, seqKey(tail)); err != nil {
			return res, fmt.Errorf("obuf: deleting entry %d: %w", tail, err)
		}
		tail++
		if err := b.store.PutUint64(ctx, nsBuf, keyTail, tail); err != nil {
			return res, fmt.Errorf("obuf: persisting tail: %w", err)
		}

		if tail < head {
			// Brief pause between entries so a long drain does not
			// starve the transport's keepalive.
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(b.yield):
			}
		}
	}
	return res, nil
}

// Len reports the current occupancy.
func (b *Buffer) Len(ctx context.Context) (int, error) {
	head, tail, err := b.bounds(ctx)
	if err != nil {
		return 0, err
	}
	return int(head - tail), nil //nolint:gosec // occupancy is bounded by capacity
}

// wirePayload converts a stored record into its history wire form.
// Malformed records read as not-ok and are skipped by the caller.
func (b *Buffer) wirePayload(raw []byte, seq uint64) ([]byte, bool) {
	var s Sample
	if err := json.Unmarshal(raw, &s); err != nil {
		b.log.Warn("skipping malformed entry", "seq", seq, "error", err)
		return nil, false
	}
	payload, err := json.Marshal(historyRecord{
		TS:   s.TS,
		Temp: round1(telemetry.CelsiusToFahrenheit(s.TempC)),
		Hum:  round1(s.Hum),
	})
	if err != nil {
		b.log.Warn("skipping unencodable entry", "seq", seq, "error", err)
		return nil, false
	}
	return payload, true
}

// bounds loads the ring bounds, re-initialising them when they are
// impossible. head >= tail must hold; anything else means a torn write
// and the ring restarts empty at the current head.
func (b *Buffer) bounds(ctx context.Context) (head, tail uint64, err error) {
	head, err = b.counter(ctx, keyHead)
	if err != nil {
		return 0, 0, err
	}
	tail, err = b.counter(ctx, keyTail)
	if err != nil {
		return 0, 0, err
	}
	if tail > head {
		b.log.Warn("ring bounds inconsistent, resetting", "head", head, "tail", tail)
		tail = head
		if err := b.store.PutUint64(ctx, nsBuf, keyTail, tail); err != nil {
			return 0, 0, fmt.Errorf("obuf: resetting tail: %w", err)
		}
	}
	return head, tail, nil
}

// counter reads one bound. Missing means a fresh ring; corrupt means
// the record lost its guard and the bound restarts at zero.
func (b *Buffer) counter(ctx context.Context, key string) (uint64, error) {
	v, err := b.store.GetUint64(ctx, nsBuf, key)
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, nvstore.ErrNotFound):
		return 0, nil
	case errors.Is(err, nvstore.ErrCorrupt):
		b.log.Warn("ring bound unreadable, restarting at zero", "key", key, "error", err)
		return 0, nil
	default:
		return 0, fmt.Errorf("obuf: reading %s: %w", key, err)
	}
}

func seqKey(seq uint64) string {
	return fmt.Sprintf("s%d", seq)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
