// Package fitflow is the embeddable FitFlow client. It owns the durable
// store, the offline write path (entity buffer plus mutation queue), and
// the background sync machinery, and exposes the operations the app's UI
// layer calls.
package fitflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fitflow/fitflow/internal/buffer"
	"github.com/fitflow/fitflow/internal/config"
	"github.com/fitflow/fitflow/internal/engine"
	"github.com/fitflow/fitflow/internal/gateway"
	"github.com/fitflow/fitflow/internal/netmon"
	"github.com/fitflow/fitflow/internal/queue"
	"github.com/fitflow/fitflow/internal/state"
	"github.com/fitflow/fitflow/internal/store"
	"github.com/fitflow/fitflow/internal/types"
	"github.com/fitflow/fitflow/internal/worker"
)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("client is closed")

// Client is the FitFlow client. All methods are safe for concurrent use.
type Client struct {
	cfg     *config.Config
	store   *store.Store
	queue   *queue.Queue
	buffer  *buffer.Buffer
	state   *state.Store
	gateway gateway.Gateway
	monitor netmon.Monitor
	engine  *engine.Engine
	sweeper *worker.RetentionWorker

	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes client construction.
type Option func(*Client)

// WithGateway replaces the HTTP gateway, e.g. with a fake in tests.
func WithGateway(gw gateway.Gateway) Option {
	return func(c *Client) { c.gateway = gw }
}

// WithMonitor replaces the ping-based connectivity monitor.
func WithMonitor(mon netmon.Monitor) Option {
	return func(c *Client) { c.monitor = mon }
}

// New creates a client from configuration. The durable store is opened
// (and migrated) immediately; background work starts with Start.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	q := queue.New(s, cfg.Sync.MaxRetries, queue.Backoff{
		Base: time.Duration(cfg.Sync.BaseBackoff),
		Max:  time.Duration(cfg.Sync.MaxBackoff),
	})
	b := buffer.New(s)

	st, err := state.New(s, func() int {
		n, err := q.Len()
		if err != nil {
			return 0
		}
		return n
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("restoring client state: %w", err)
	}

	c := &Client{
		cfg:    cfg,
		store:  s,
		queue:  q,
		buffer: b,
		state:  st,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.gateway == nil {
		c.gateway = gateway.NewHTTP(cfg.Gateway.BaseURL, func() (string, error) {
			if cfg.Gateway.Token == "" {
				return "", errors.New("no API token configured")
			}
			return cfg.Gateway.Token, nil
		}, time.Duration(cfg.Gateway.RequestTimeout))
	}
	if c.monitor == nil {
		pinger, ok := c.gateway.(netmon.Pinger)
		if !ok {
			return nil, errors.New("gateway cannot probe connectivity; provide a monitor")
		}
		c.monitor = netmon.NewPing(pinger, time.Duration(cfg.Sync.PingInterval))
	}

	c.engine = engine.New(q, b, st, c.gateway, c.monitor,
		time.Duration(cfg.Sync.FlushInterval),
		time.Duration(cfg.Gateway.RequestTimeout),
	)
	c.sweeper = worker.NewRetentionWorker(b,
		time.Duration(cfg.Retention.SweepInterval),
		time.Duration(cfg.Retention.Window),
	)

	return c, nil
}

// Start launches the background workers: the connectivity monitor (when
// ping-based), the sync engine, and the retention sweeper. They run until
// Close or until ctx is cancelled.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.cancel != nil {
		return errors.New("client already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if pm, ok := c.monitor.(*netmon.PingMonitor); ok {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			pm.Run(runCtx)
		}()
	}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.engine.Run(runCtx)
	}()
	go func() {
		defer c.wg.Done()
		c.sweeper.Run(runCtx)
	}()

	return nil
}

// Close stops background work and closes the durable store. Queued
// mutations and buffered entities stay on disk for the next launch.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	return c.store.Close()
}

// LogMealText records a typed-in meal: the entity is buffered durably,
// the caches update optimistically, and a mutation is queued for sync.
// The returned meal carries the client-generated ID.
func (c *Client) LogMealText(meal types.Meal) (types.Meal, error) {
	return c.logMeal(types.EntityText, meal, "")
}

// LogMealPhoto records a photo-captured meal. imageURI points at the
// locally stored image.
func (c *Client) LogMealPhoto(meal types.Meal, imageURI string) (types.Meal, error) {
	return c.logMeal(types.EntityPhoto, meal, imageURI)
}

// LogMealVoice records a meal dictated by voice.
func (c *Client) LogMealVoice(meal types.Meal) (types.Meal, error) {
	return c.logMeal(types.EntityVoice, meal, "")
}

func (c *Client) logMeal(kind types.EntityKind, meal types.Meal, imageURI string) (types.Meal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return types.Meal{}, ErrClosed
	}

	if meal.LoggedAt.IsZero() {
		meal.LoggedAt = time.Now().UTC()
	}

	entityID, err := c.buffer.Capture(kind, meal, imageURI)
	if err != nil {
		return types.Meal{}, err
	}
	meal.ID = entityID

	if _, err := c.queue.Enqueue(types.NewMutation(types.MealPayload{
		EntityID: entityID,
		Meal:     meal,
	})); err != nil {
		// Roll back the capture so the buffer and queue stay in step.
		_ = c.buffer.Delete(entityID)
		return types.Meal{}, err
	}

	c.state.PrependMeal(meal)
	if err := c.state.AddCaloriesIn(meal.Calories); err != nil {
		return types.Meal{}, err
	}

	c.engine.TriggerFlush()
	return meal, nil
}

// LogWater records drunk water in milliliters.
func (c *Client) LogWater(ml int) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	if ml <= 0 {
		return errors.New("water amount must be positive")
	}

	if _, err := c.queue.Enqueue(types.NewMutation(types.WaterPayload{ML: ml})); err != nil {
		return err
	}
	if err := c.state.AddWater(ml); err != nil {
		return err
	}

	c.engine.TriggerFlush()
	return nil
}

// CompleteTask marks a burn task completed or skipped.
func (c *Client) CompleteTask(taskID string, status types.TaskStatus) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}

	if _, err := c.queue.Enqueue(types.NewMutation(types.TaskCompletePayload{
		TaskID: taskID,
		Status: status,
	})); err != nil {
		return err
	}
	c.state.SetTaskStatus(taskID, status)

	c.engine.TriggerFlush()
	return nil
}

// UpdateProfile replaces the user's profile.
func (c *Client) UpdateProfile(p types.Profile) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}

	if _, err := c.queue.Enqueue(types.NewMutation(types.ProfileUpdatePayload{Profile: p})); err != nil {
		return err
	}
	if err := c.state.SetProfile(&p); err != nil {
		return err
	}

	c.engine.TriggerFlush()
	return nil
}

// DeleteMeal removes a meal. If the meal's mutation is still queued and
// unsent, both the mutation and the buffered entity are dropped locally
// and the server never hears about the meal. Otherwise a delete mutation
// is queued.
func (c *Client) DeleteMeal(mealID string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}

	c.state.RemoveMeal(mealID)

	items, err := c.queue.Items()
	if err != nil {
		return err
	}
	for _, item := range items {
		p, ok := item.Mutation.Payload.(types.MealPayload)
		if !ok || p.EntityID != mealID {
			continue
		}
		if err := c.queue.Cancel(item.ID); err != nil {
			return err
		}
		return c.buffer.Delete(mealID)
	}

	// Already sent (or server-originated): delete remotely too.
	if err := c.buffer.Delete(mealID); err != nil {
		return err
	}
	if _, err := c.queue.Enqueue(types.NewMutation(types.MealDeletePayload{MealID: mealID})); err != nil {
		return err
	}

	c.engine.TriggerFlush()
	return nil
}

// Rehydrate refreshes the read caches from the server: profile, today's
// daily log, recent meals, and burn tasks. Partial failures leave the
// other caches updated; the combined error reports what failed.
func (c *Client) Rehydrate(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}

	var errs []error

	if p, err := c.gateway.FetchProfile(ctx); err != nil {
		errs = append(errs, fmt.Errorf("profile: %w", err))
	} else if err := c.state.SetProfile(&p); err != nil {
		errs = append(errs, err)
	}

	today := time.Now().UTC().Format("2006-01-02")
	if log, err := c.gateway.FetchDailyLog(ctx, today); err != nil {
		errs = append(errs, fmt.Errorf("daily log: %w", err))
	} else if err := c.state.SetDailyLog(&log); err != nil {
		errs = append(errs, err)
	}

	if meals, err := c.gateway.FetchMeals(ctx, 50, 0); err != nil {
		errs = append(errs, fmt.Errorf("meals: %w", err))
	} else {
		c.state.SetMeals(meals)
	}

	if tasks, err := c.gateway.FetchTasks(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tasks: %w", err))
	} else {
		c.state.SetTasks(tasks)
	}

	return errors.Join(errs...)
}

// Flush runs one synchronous sync pass. Start's background loop makes
// this unnecessary in normal operation; it exists for launch sequences
// and tooling that want to wait for a drain attempt.
func (c *Client) Flush(ctx context.Context) {
	c.engine.Flush(ctx)
}

// Resume lifts the auth pause after the user signs back in.
func (c *Client) Resume() {
	c.engine.Resume()
}

// SignIn stores the signed-in identity.
func (c *Client) SignIn(id types.Identity) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	return c.state.SetIdentity(&id)
}

// SignOut wipes everything belonging to the user: client state, queued
// mutations, and buffered entities. Unsynced data is discarded.
func (c *Client) SignOut() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}

	c.engine.Pause()
	defer c.engine.Resume()

	if err := c.queue.Clear(); err != nil {
		return err
	}
	if err := c.buffer.Clear(); err != nil {
		return err
	}
	return c.state.Clear()
}

// SweepNow runs one retention sweep immediately and reports how many
// synced entities aged out.
func (c *Client) SweepNow() (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return 0, ErrClosed
	}
	cutoff := time.Now().Add(-time.Duration(c.cfg.Retention.Window))
	return c.buffer.PurgeSyncedBefore(cutoff)
}

// --- Read accessors ---

// Online reports last known connectivity.
func (c *Client) Online() bool { return c.state.Online() }

// AuthRequired reports whether sync is paused awaiting re-authentication.
func (c *Client) AuthRequired() bool { return c.state.AuthRequired() }

// PendingSyncCount is the number of queued, not-yet-confirmed mutations.
func (c *Client) PendingSyncCount() int { return c.state.PendingSyncCount() }

// Identity returns the signed-in identity, or nil.
func (c *Client) Identity() *types.Identity { return c.state.Identity() }

// Profile returns the cached profile, or nil.
func (c *Client) Profile() *types.Profile { return c.state.Profile() }

// DailyLog returns the cached daily log, or nil.
func (c *Client) DailyLog() *types.DailyLog { return c.state.DailyLog() }

// Meals returns the cached meal list, newest first.
func (c *Client) Meals() []types.Meal { return c.state.Meals() }

// Tasks returns the cached burn tasks.
func (c *Client) Tasks() []types.Task { return c.state.Tasks() }

// SyncErrors returns unacknowledged sync failures.
func (c *Client) SyncErrors() []state.SyncError { return c.state.SyncErrors() }

// AckSyncError dismisses a surfaced sync failure.
func (c *Client) AckSyncError(itemID string) { c.state.AckSyncError(itemID) }

// QueueItems returns the pending mutations in enqueue order.
func (c *Client) QueueItems() ([]types.QueueItem, error) { return c.queue.Items() }

// DeadLetters returns mutations that were permanently rejected or
// exhausted their retries.
func (c *Client) DeadLetters() ([]types.DeadLetter, error) { return c.queue.DeadLetters() }

// AckDeadLetter discards an acknowledged dead letter.
func (c *Client) AckDeadLetter(id string) error { return c.queue.AckDeadLetter(id) }

// Entities returns all buffered offline entities.
func (c *Client) Entities() ([]types.OfflineEntity, error) { return c.buffer.ListAll() }

// UnsyncedEntities returns buffered entities still awaiting sync.
func (c *Client) UnsyncedEntities() ([]types.OfflineEntity, error) { return c.buffer.ListUnsynced() }
