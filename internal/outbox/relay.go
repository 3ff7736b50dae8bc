package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ralmosara/NetSuiteClone-sub003/internal/events"
	"github.com/ralmosara/NetSuiteClone-sub003/internal/metrics"
)

// ErrUnknownKind marks entries whose kind no dispatcher understands.
var ErrUnknownKind = errors.New("unknown outbox entry kind")

// NewEntry builds an entry for kind, encoding payload as JSON.
func NewEntry(kind Kind, target, event string, payload any) (Entry, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Entry{Kind: kind, Target: target, Event: event, Payload: data}, nil
}

// Dispatch publishes one entry through em. Every error it returns is
// permanent: retrying the same entry would fail the same way.
func Dispatch(em *events.Emitter, e Entry) error {
	switch e.Kind {
	case KindNotification:
		var n events.Notification
		if err := json.Unmarshal(e.Payload, &n); err != nil {
			return fmt.Errorf("decode notification: %w", err)
		}
		_, err := em.Notify(e.Target, n)
		return err
	case KindOrderStatus:
		var c events.OrderStatusChange
		if err := json.Unmarshal(e.Payload, &c); err != nil {
			return fmt.Errorf("decode order status: %w", err)
		}
		_, err := em.OrderStatusChanged(e.Target, c)
		return err
	case KindInventory:
		var c events.InventoryChange
		if err := json.Unmarshal(e.Payload, &c); err != nil {
			return fmt.Errorf("decode inventory change: %w", err)
		}
		em.InventoryQuantityChanged(c)
		return nil
	case KindEvent:
		var payload any
		if len(e.Payload) > 0 {
			payload = e.Payload
		}
		if e.Target == "" {
			return em.PublishAll(e.Event, payload)
		}
		return em.Publish(e.Target, e.Event, payload)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
}

// Relay drains the store into the emitter.
type Relay struct {
	store    *Store
	dispatch func(Entry) error
	interval time.Duration
	batch    int
	log      zerolog.Logger
}

type RelayOptions struct {
	Interval time.Duration
	Batch    int
	Logger   zerolog.Logger
}

func NewRelay(store *Store, em *events.Emitter, opts RelayOptions) *Relay {
	if opts.Interval <= 0 {
		opts.Interval = 250 * time.Millisecond
	}
	if opts.Batch <= 0 {
		opts.Batch = 100
	}
	return &Relay{
		store:    store,
		dispatch: func(e Entry) error { return Dispatch(em, e) },
		interval: opts.Interval,
		batch:    opts.Batch,
		log:      opts.Logger,
	}
}

// Run relays until ctx is cancelled, with a final pass on the way out.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if _, err := r.Drain(); err != nil {
				r.log.Error().Err(err).Msg("final outbox drain failed")
			}
			return
		case <-ticker.C:
			if _, err := r.Drain(); err != nil {
				r.log.Error().Err(err).Msg("outbox drain failed")
			}
		}
	}
}

// Drain relays pending entries until the outbox is empty or a storage
// error occurs. It returns the number of entries handled.
func (r *Relay) Drain() (int, error) {
	total := 0
	for {
		entries, err := r.store.Pending(r.batch)
		if err != nil {
			return total, err
		}
		for _, e := range entries {
			if err := r.relayOne(e); err != nil {
				return total, err
			}
			total++
		}
		if len(entries) < r.batch {
			break
		}
	}

	if n, err := r.store.Len(); err == nil {
		metrics.OutboxPending.Set(float64(n))
	}
	return total, nil
}

func (r *Relay) relayOne(e Entry) error {
	log := r.log.With().Uint64("seq", e.Seq).Str("kind", string(e.Kind)).Logger()

	if err := r.dispatch(e); err != nil {
		log.Warn().Err(err).Msg("dead-lettering outbox entry")
		metrics.OutboxRelayed.WithLabelValues("dead").Inc()
		if kerr := r.store.Kill(e, err.Error()); kerr != nil {
			return fmt.Errorf("dead-letter %d: %w", e.Seq, kerr)
		}
		return nil
	}

	metrics.OutboxRelayed.WithLabelValues("published").Inc()
	if err := r.store.Ack(e.Seq); err != nil {
		return fmt.Errorf("ack %d: %w", e.Seq, err)
	}
	log.Debug().Msg("outbox entry published")
	return nil
}
