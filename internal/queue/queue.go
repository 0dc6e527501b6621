// Package queue implements the durable mutation queue: an ordered list of
// pending writes persisted through the durable store, drained FIFO by the
// sync engine, with exponential backoff and a dead-letter area for
// mutations that can never succeed.
package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fitflow/fitflow/internal/store"
	"github.com/fitflow/fitflow/internal/types"
	"github.com/oklog/ulid/v2"
)

const (
	envelopeVersion = 1
	itemsKey        = "items"
)

// ErrUnknownMutation is returned when enqueueing a mutation whose kind is
// not part of the known union. Rejected here rather than at flush time.
var ErrUnknownMutation = errors.New("unknown mutation kind")

// Durable is the subset of the durable store the queue needs.
type Durable interface {
	Put(namespace, key string, v any) error
	Get(namespace, key string, out any) (bool, error)
}

type envelope struct {
	Version int               `json:"version"`
	Items   []types.QueueItem `json:"items"`
}

type deadEnvelope struct {
	Version int                `json:"version"`
	Items   []types.DeadLetter `json:"items"`
}

// Queue is the durable FIFO of pending mutations. All operations perform a
// whole-sequence load-modify-save under the queue mutex, so concurrent
// producers and the flush pass cannot lose each other's updates.
type Queue struct {
	mu         sync.Mutex
	store      Durable
	backoff    Backoff
	maxRetries int
	now        func() time.Time
}

// New creates a Queue on top of the durable store. maxRetries bounds the
// number of transient failures before an item is dead-lettered.
func New(s Durable, maxRetries int, backoff Backoff) *Queue {
	return &Queue{
		store:      s,
		backoff:    backoff,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// Enqueue appends a mutation to the tail of the queue and returns the
// generated item id. The id doubles as the idempotency key sent to the
// server. Enqueue never touches the network.
func (q *Queue) Enqueue(m types.Mutation) (string, error) {
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMutation, m.Kind)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load()
	if err != nil {
		return "", err
	}

	now := q.now().UTC()
	item := types.QueueItem{
		ID:             ulid.Make().String(),
		Mutation:       m,
		EnqueuedAt:     now,
		RetryCount:     0,
		NextEligibleAt: now,
	}
	items = append(items, item)

	if err := q.save(items); err != nil {
		return "", err
	}

	slog.Debug("mutation enqueued",
		"component", "queue",
		"action", "enqueue",
		"item_id", item.ID,
		"kind", m.Kind,
	)
	return item.ID, nil
}

// PeekEligible returns the earliest-enqueued item whose NextEligibleAt has
// passed. Items are only skipped, never reordered: the first item in
// enqueue order that is eligible wins, so causal order between mutations
// is preserved as long as producers enqueue in causal order.
func (q *Queue) PeekEligible(now time.Time) (types.QueueItem, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load()
	if err != nil {
		return types.QueueItem{}, false, err
	}

	for _, item := range items {
		if !item.NextEligibleAt.After(now) {
			return item, true, nil
		}
	}
	return types.QueueItem{}, false, nil
}

// MarkSucceeded removes the item after a confirmed server success.
// Returns false when the id was already gone: the item was cancelled
// while its send was in flight, and the caller must treat the late
// response as moot rather than apply it.
func (q *Queue) MarkSucceeded(id string) (bool, error) {
	return q.remove(id)
}

// Cancel removes the item unconditionally. Used when a later user action
// invalidates a not-yet-sent mutation.
func (q *Queue) Cancel(id string) error {
	_, err := q.remove(id)
	return err
}

func (q *Queue) remove(id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load()
	if err != nil {
		return false, err
	}

	filtered := items[:0]
	for _, item := range items {
		if item.ID != id {
			filtered = append(filtered, item)
		}
	}
	if len(filtered) == len(items) {
		return false, nil
	}
	return true, q.save(filtered)
}

// MarkFailed records a transient failure: the retry count goes up and the
// item becomes eligible again after the backoff delay. Once the retry
// count exceeds the configured maximum the item moves to the dead-letter
// namespace instead. Returns true when the item was dead-lettered.
func (q *Queue) MarkFailed(id, reason string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load()
	if err != nil {
		return false, err
	}

	for i, item := range items {
		if item.ID != id {
			continue
		}

		item.RetryCount++
		if item.RetryCount > q.maxRetries {
			items = append(items[:i], items[i+1:]...)
			if err := q.save(items); err != nil {
				return false, err
			}
			return true, q.appendDeadLetter(item, reason)
		}

		item.NextEligibleAt = q.now().UTC().Add(q.backoff.Delay(item.RetryCount))
		items[i] = item
		return false, q.save(items)
	}

	return false, nil
}

// DeadLetter moves the item to the dead-letter namespace immediately,
// bypassing the retry budget. Used for mutations the server has rejected
// as invalid: retrying them cannot succeed.
func (q *Queue) DeadLetter(id, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load()
	if err != nil {
		return err
	}

	for i, item := range items {
		if item.ID != id {
			continue
		}
		items = append(items[:i], items[i+1:]...)
		if err := q.save(items); err != nil {
			return err
		}
		return q.appendDeadLetter(item, reason)
	}
	return nil
}

func (q *Queue) appendDeadLetter(item types.QueueItem, reason string) error {
	letters, err := q.loadDeadLetters()
	if err != nil {
		return err
	}

	letters = append(letters, types.DeadLetter{
		QueueItem:      item,
		Reason:         reason,
		DeadLetteredAt: q.now().UTC(),
	})

	if err := q.store.Put(store.NamespaceDeadLetter, itemsKey, deadEnvelope{Version: envelopeVersion, Items: letters}); err != nil {
		return fmt.Errorf("persist dead letters: %w", err)
	}

	slog.Warn("mutation dead-lettered",
		"component", "queue",
		"action", "dead_letter",
		"item_id", item.ID,
		"kind", item.Mutation.Kind,
		"retry_count", item.RetryCount,
		"reason", reason,
	)
	return nil
}

// AckDeadLetter removes a dead letter after the user has acknowledged the
// permanently failed action.
func (q *Queue) AckDeadLetter(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	letters, err := q.loadDeadLetters()
	if err != nil {
		return err
	}

	filtered := letters[:0]
	for _, l := range letters {
		if l.ID != id {
			filtered = append(filtered, l)
		}
	}
	if len(filtered) == len(letters) {
		return nil
	}
	return q.store.Put(store.NamespaceDeadLetter, itemsKey, deadEnvelope{Version: envelopeVersion, Items: filtered})
}

// Len returns the number of items still queued.
func (q *Queue) Len() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load()
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Items returns a copy of the active queue in enqueue order.
func (q *Queue) Items() ([]types.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

// DeadLetters returns the dead-lettered mutations awaiting acknowledgment.
func (q *Queue) DeadLetters() ([]types.DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loadDeadLetters()
}

// Clear drops the active queue and dead letters. Called on sign-out.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.save(nil); err != nil {
		return err
	}
	return q.store.Put(store.NamespaceDeadLetter, itemsKey, deadEnvelope{Version: envelopeVersion})
}

func (q *Queue) load() ([]types.QueueItem, error) {
	var env envelope
	if _, err := q.store.Get(store.NamespaceSyncQueue, itemsKey, &env); err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	return env.Items, nil
}

func (q *Queue) save(items []types.QueueItem) error {
	if err := q.store.Put(store.NamespaceSyncQueue, itemsKey, envelope{Version: envelopeVersion, Items: items}); err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}
	return nil
}

func (q *Queue) loadDeadLetters() ([]types.DeadLetter, error) {
	var env deadEnvelope
	if _, err := q.store.Get(store.NamespaceDeadLetter, itemsKey, &env); err != nil {
		return nil, fmt.Errorf("load dead letters: %w", err)
	}
	return env.Items, nil
}
