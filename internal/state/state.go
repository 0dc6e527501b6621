// Package state holds the client-side cache the UI reads from. Only the
// identity, profile, and daily log survive restart; meals, tasks,
// connectivity, and the pending count are rehydrated or derived at runtime.
package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/fitflow/fitflow/internal/store"
	"github.com/fitflow/fitflow/internal/types"
)

const snapshotKey = "snapshot"

// Durable is the subset of the durable store the state store needs.
type Durable interface {
	Put(namespace, key string, v any) error
	Get(namespace, key string, out any) (bool, error)
	Delete(namespace, key string) error
}

// Persistent is the half of the client state the durable store ever sees.
type Persistent struct {
	Identity *types.Identity `json:"identity,omitempty"`
	Profile  *types.Profile  `json:"profile,omitempty"`
	DailyLog *types.DailyLog `json:"daily_log,omitempty"`
}

// SyncError is a permanently failed mutation surfaced to the UI, distinct
// from mutations still retrying.
type SyncError struct {
	ItemID string
	Kind   types.MutationKind
	Reason string
	At     time.Time
}

// Store is the mutex-guarded client state cache.
type Store struct {
	mu      sync.RWMutex
	durable Durable

	persistent Persistent

	meals        []types.Meal
	tasks        []types.Task
	isOnline     bool
	authRequired bool
	syncErrors   []SyncError

	// pendingCount reports the live mutation queue length. The count is
	// always recomputed from the queue, never stored here.
	pendingCount func() int
}

// New creates a Store and rehydrates the persistent half from the durable
// store. pendingCount reports the current mutation queue length.
func New(durable Durable, pendingCount func() int) (*Store, error) {
	s := &Store{
		durable:      durable,
		pendingCount: pendingCount,
	}

	// Corrupt or missing snapshot yields empty state; never an error.
	if _, err := durable.Get(store.NamespaceClientState, snapshotKey, &s.persistent); err != nil {
		return nil, fmt.Errorf("load client state: %w", err)
	}

	return s, nil
}

func (s *Store) savePersistent() error {
	return s.durable.Put(store.NamespaceClientState, snapshotKey, s.persistent)
}

// Identity returns the signed-in identity, if any.
func (s *Store) Identity() *types.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persistent.Identity
}

// SetIdentity stores the signed-in identity durably.
func (s *Store) SetIdentity(id *types.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistent.Identity = id
	return s.savePersistent()
}

// Profile returns the cached profile.
func (s *Store) Profile() *types.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persistent.Profile
}

// SetProfile stores the profile durably.
func (s *Store) SetProfile(p *types.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistent.Profile = p
	return s.savePersistent()
}

// DailyLog returns the cached daily log.
func (s *Store) DailyLog() *types.DailyLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persistent.DailyLog
}

// SetDailyLog stores the daily log durably.
func (s *Store) SetDailyLog(log *types.DailyLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistent.DailyLog = log
	return s.savePersistent()
}

// AddCaloriesIn optimistically bumps today's intake. No-op without a log.
func (s *Store) AddCaloriesIn(calories int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persistent.DailyLog == nil {
		return nil
	}
	s.persistent.DailyLog.CaloriesIn += calories
	return s.savePersistent()
}

// AddWater optimistically bumps today's water intake. No-op without a log.
func (s *Store) AddWater(ml int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persistent.DailyLog == nil {
		return nil
	}
	s.persistent.DailyLog.WaterML += ml
	return s.savePersistent()
}

// SetSteps sets today's step count. No-op without a log.
func (s *Store) SetSteps(steps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persistent.DailyLog == nil {
		return nil
	}
	s.persistent.DailyLog.Steps = steps
	return s.savePersistent()
}

// Meals returns the cached meal list, newest first.
func (s *Store) Meals() []types.Meal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Meal, len(s.meals))
	copy(out, s.meals)
	return out
}

// SetMeals replaces the transient meal cache.
func (s *Store) SetMeals(meals []types.Meal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meals = meals
}

// PrependMeal adds an optimistically logged meal to the front of the cache.
func (s *Store) PrependMeal(meal types.Meal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meals = append([]types.Meal{meal}, s.meals...)
}

// ReplaceMeal swaps an optimistic meal for the server-confirmed one,
// matched by the client-side id. Falls back to prepending when the
// optimistic entry is gone (e.g. the cache was refreshed mid-sync).
func (s *Store) ReplaceMeal(oldID string, meal types.Meal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.meals {
		if m.ID == oldID {
			s.meals[i] = meal
			return
		}
	}
	s.meals = append([]types.Meal{meal}, s.meals...)
}

// RemoveMeal drops a meal from the cache by id.
func (s *Store) RemoveMeal(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	filtered := s.meals[:0]
	for _, m := range s.meals {
		if m.ID != id {
			filtered = append(filtered, m)
		}
	}
	s.meals = filtered
}

// Tasks returns the cached task list.
func (s *Store) Tasks() []types.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// SetTasks replaces the transient task cache.
func (s *Store) SetTasks(tasks []types.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = tasks
}

// SetTaskStatus optimistically updates one task's status.
func (s *Store) SetTaskStatus(id string, status types.TaskStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, task := range s.tasks {
		if task.ID != id {
			continue
		}
		s.tasks[i].Status = status
		if status == types.TaskCompleted {
			now := time.Now().UTC()
			s.tasks[i].CompletedAt = &now
		} else {
			s.tasks[i].CompletedAt = nil
		}
		return
	}
}

// Online reports the last known connectivity state.
func (s *Store) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// SetOnline records the connectivity state.
func (s *Store) SetOnline(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isOnline = online
}

// PendingSyncCount returns the live mutation queue length.
func (s *Store) PendingSyncCount() int {
	if s.pendingCount == nil {
		return 0
	}
	return s.pendingCount()
}

// AuthRequired reports whether the sync engine is paused on an expired
// session.
func (s *Store) AuthRequired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authRequired
}

// SetAuthRequired records the re-authentication signal.
func (s *Store) SetAuthRequired(required bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authRequired = required
}

// RecordSyncError surfaces a dead-lettered mutation to the UI.
func (s *Store) RecordSyncError(e SyncError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncErrors = append(s.syncErrors, e)
}

// SyncErrors returns the permanently failed mutations awaiting
// acknowledgment.
func (s *Store) SyncErrors() []SyncError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SyncError, len(s.syncErrors))
	copy(out, s.syncErrors)
	return out
}

// AckSyncError removes an acknowledged sync error by queue item id.
func (s *Store) AckSyncError(itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	filtered := s.syncErrors[:0]
	for _, e := range s.syncErrors {
		if e.ItemID != itemID {
			filtered = append(filtered, e)
		}
	}
	s.syncErrors = filtered
}

// Clear wipes both halves of the state. Called on sign-out.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.persistent = Persistent{}
	s.meals = nil
	s.tasks = nil
	s.syncErrors = nil
	s.authRequired = false

	return s.durable.Delete(store.NamespaceClientState, snapshotKey)
}
