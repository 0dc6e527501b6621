// Package buffer stores user-captured records durably until they have
// synced and aged out. Entries are owned here; the sync queue only
// references them by id.
package buffer

import (
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

// Durable is the subset of the durable store the buffer needs.
type Durable interface {
	Put(namespace, key string, v any) error
	Get(namespace, key string, out any) (bool, error)
}

type envelope struct {
	Version int                   `json:"version"`
	Items   []types.OfflineEntity `json:"items"`
}

// Buffer is the durable store of captured offline entities.
type Buffer struct {
	mu    sync.Mutex
	store Durable
	now   func() time.Time
}

// New creates a Buffer on top of the durable store.
func New(s Durable) *Buffer {
	return &Buffer{store: s, now: time.Now}
}

// Capture persists a new entity in the Pending state and returns its id.
// Never touches the network; the caller stays responsive while offline.
func (b *Buffer) Capture(kind types.EntityKind, meal types.Meal, imageURI string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entities, err := b.load()
	if err != nil {
		return "", err
	}

	entity := types.OfflineEntity{
		ID:         ulid.Make().String(),
		Kind:       kind,
		Meal:       meal,
		ImageURI:   imageURI,
		CapturedAt: b.now().UTC(),
		SyncState:  types.SyncPending,
	}
	entities = append(entities, entity)

	if err := b.save(entities); err != nil {
		return "", err
	}

	slog.Debug("entity captured",
		"component", "buffer",
		"action", "capture",
		"entity_id", entity.ID,
		"kind", kind,
	)
	return entity.ID, nil
}

// Get returns the entity with the given id.
func (b *Buffer) Get(id string) (types.OfflineEntity, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entities, err := b.load()
	if err != nil {
		return types.OfflineEntity{}, false, err
	}
	for _, e := range entities {
		if e.ID == id {
			return e, true, nil
		}
	}
	return types.OfflineEntity{}, false, nil
}

// MarkSynced transitions the entity to Synced. Idempotent: marking an
// already-synced or absent entity is a no-op, since the entity may have
// been purged or deleted while its mutation was in flight.
func (b *Buffer) MarkSynced(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entities, err := b.load()
	if err != nil {
		return err
	}

	for i, e := range entities {
		if e.ID != id || e.SyncState == types.SyncSynced {
			continue
		}
		entities[i].SyncState = types.SyncSynced
		return b.save(entities)
	}
	return nil
}

// Delete removes the entity regardless of sync state. Used when the user
// deletes a meal; the caller is responsible for cancelling or superseding
// any queued mutation that references it.
func (b *Buffer) Delete(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entities, err := b.load()
	if err != nil {
		return err
	}

	filtered := entities[:0]
	for _, e := range entities {
		if e.ID != id {
			filtered = append(filtered, e)
		}
	}
	if len(filtered) == len(entities) {
		return nil
	}
	return b.save(filtered)
}

// ListUnsynced returns entities still waiting to reach the server.
func (b *Buffer) ListUnsynced() ([]types.OfflineEntity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entities, err := b.load()
	if err != nil {
		return nil, err
	}

	var pending []types.OfflineEntity
	for _, e := range entities {
		if e.SyncState == types.SyncPending {
			pending = append(pending, e)
		}
	}
	return pending, nil
}

// ListAll returns every buffered entity in capture order.
func (b *Buffer) ListAll() ([]types.OfflineEntity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.load()
}

// PurgeSyncedBefore removes Synced entities captured before the cutoff and
// returns how many were removed. Pending entities are never purged: an
// unsynced record either syncs or stays visible, regardless of age.
func (b *Buffer) PurgeSyncedBefore(cutoff time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entities, err := b.load()
	if err != nil {
		return 0, err
	}

	kept := entities[:0]
	for _, e := range entities {
		if e.SyncState == types.SyncSynced && e.CapturedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, e)
	}

	removed := len(entities) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	return removed, b.save(kept)
}

// Clear drops all buffered entities. Called on sign-out.
func (b *Buffer) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.save(nil)
}

func (b *Buffer) load() ([]types.OfflineEntity, error) {
	var env envelope
	if _, err := b.store.Get(store.NamespaceOfflineEntities, itemsKey, &env); err != nil {
		return nil, fmt.Errorf("load entities: %w", err)
	}
	return env.Items, nil
}

func (b *Buffer) save(entities []types.OfflineEntity) error {
	if err := b.store.Put(store.NamespaceOfflineEntities, itemsKey, envelope{Version: envelopeVersion, Items: entities}); err != nil {
		return fmt.Errorf("persist entities: %w", err)
	}
	return nil
}
