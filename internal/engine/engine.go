// Package engine drains the mutation queue through the remote gateway.
// One flush pass runs at a time; triggers arriving mid-pass coalesce into
// a single follow-up pass. Mutations are delivered strictly in enqueue
// order, never in parallel, so causal dependencies between them hold.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fitflow/fitflow/internal/gateway"
	"github.com/fitflow/fitflow/internal/netmon"
	"github.com/fitflow/fitflow/internal/state"
	"github.com/fitflow/fitflow/internal/types"
)

// Queue is the mutation queue surface the engine drives.
type Queue interface {
	PeekEligible(now time.Time) (types.QueueItem, bool, error)
	MarkSucceeded(id string) (removed bool, err error)
	MarkFailed(id, reason string) (deadLettered bool, err error)
	DeadLetter(id, reason string) error
}

// Buffer marks captured entities synced once their mutation lands.
type Buffer interface {
	MarkSynced(id string) error
}

// State receives connectivity, auth, and confirmation updates.
type State interface {
	SetOnline(online bool)
	SetAuthRequired(required bool)
	RecordSyncError(e state.SyncError)
	SetDailyLog(log *types.DailyLog) error
	SetProfile(p *types.Profile) error
	ReplaceMeal(oldID string, meal types.Meal)
}

// Engine is the single-flight sync orchestrator.
type Engine struct {
	queue   Queue
	buffer  Buffer
	state   State
	gateway gateway.Gateway
	monitor netmon.Monitor

	flushInterval time.Duration
	callTimeout   time.Duration

	// trigger has capacity 1: a trigger during an active pass parks here
	// and is consumed when the pass finishes, which coalesces any number
	// of re-entrant triggers into one follow-up pass.
	trigger chan struct{}

	mu     sync.Mutex
	paused bool

	passMu sync.Mutex
	now    func() time.Time
}

// New creates an Engine. callTimeout bounds each gateway call inside a
// pass; flushInterval is the fallback timer that fires when no
// connectivity event does.
func New(q Queue, b Buffer, st State, gw gateway.Gateway, mon netmon.Monitor, flushInterval, callTimeout time.Duration) *Engine {
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	return &Engine{
		queue:         q,
		buffer:        b,
		state:         st,
		gateway:       gw,
		monitor:       mon,
		flushInterval: flushInterval,
		callTimeout:   callTimeout,
		trigger:       make(chan struct{}, 1),
		now:           time.Now,
	}
}

// TriggerFlush requests a flush pass. Never blocks; triggers during an
// active pass coalesce.
func (e *Engine) TriggerFlush() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Pause stops all flushing until Resume. The queue is untouched: no items
// are lost or skipped while paused.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
}

// Resume lifts an auth pause and immediately retries from the same item.
// Called by the auth collaborator once a session is restored.
func (e *Engine) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()

	e.state.SetAuthRequired(false)
	e.TriggerFlush()
}

// Paused reports whether the engine is holding off on auth.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Run subscribes to the connectivity monitor and services flush triggers
// until ctx is cancelled. Blocks; run it in a goroutine.
func (e *Engine) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "engine",
		"action", "worker_started",
	)

	e.state.SetOnline(e.monitor.Online())
	unsubscribe := e.monitor.Subscribe(func(online bool) {
		e.state.SetOnline(online)
		if online {
			e.TriggerFlush()
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(e.flushInterval)
	defer ticker.Stop()

	// Drain whatever queued up while the app was closed
	e.Flush(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "engine",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-e.trigger:
			e.Flush(ctx)
		case <-ticker.C:
			// Fallback for false-positive online states where no
			// transition event ever fires
			e.Flush(ctx)
		}
	}
}

// Flush runs one pass synchronously: drain eligible items in enqueue
// order until the queue is empty, an item backs off, auth pauses the
// engine, or ctx is cancelled. Safe to call concurrently; a second caller
// blocks until the active pass completes, then runs its own.
func (e *Engine) Flush(ctx context.Context) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	if e.Paused() || !e.monitor.Online() {
		return
	}

	var sent, deadLettered int
	for ctx.Err() == nil {
		item, ok, err := e.queue.PeekEligible(e.now())
		if err != nil {
			slog.Error("failed to read queue",
				"component", "engine",
				"action", "peek_failed",
				"error", err,
			)
			break
		}
		if !ok {
			break
		}

		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		conf, err := e.gateway.Submit(callCtx, item.Mutation, item.ID)
		cancel()

		switch {
		case err == nil:
			e.completeItem(item, conf)
			sent++

		case gateway.IsAuth(err):
			// Pause everything; advancing other items would break
			// ordering once the session comes back.
			e.Pause()
			e.state.SetAuthRequired(true)
			slog.Warn("flush paused awaiting re-authentication",
				"component", "engine",
				"action", "auth_pause",
				"item_id", item.ID,
			)
			return

		case gateway.IsValidation(err):
			if dlErr := e.queue.DeadLetter(item.ID, err.Error()); dlErr != nil {
				slog.Error("failed to dead-letter item",
					"component", "engine",
					"action", "dead_letter_failed",
					"item_id", item.ID,
					"error", dlErr,
				)
				return
			}
			e.state.RecordSyncError(state.SyncError{
				ItemID: item.ID,
				Kind:   item.Mutation.Kind,
				Reason: err.Error(),
				At:     e.now().UTC(),
			})
			deadLettered++
			// An invalid payload says nothing about the next item

		default:
			// A shutdown mid-send surfaces as a transport error, but
			// the server did nothing wrong: leave the item untouched
			// for the next launch instead of charging its retry budget.
			if ctx.Err() != nil {
				return
			}

			// Transient: reschedule and end the pass rather than
			// hammering a struggling server.
			dead, failErr := e.queue.MarkFailed(item.ID, err.Error())
			if failErr != nil {
				slog.Error("failed to reschedule item",
					"component", "engine",
					"action", "mark_failed_error",
					"item_id", item.ID,
					"error", failErr,
				)
			}
			if dead {
				e.state.RecordSyncError(state.SyncError{
					ItemID: item.ID,
					Kind:   item.Mutation.Kind,
					Reason: err.Error(),
					At:     e.now().UTC(),
				})
			}
			slog.Warn("transient failure, will retry",
				"component", "engine",
				"action", "submit_retry",
				"item_id", item.ID,
				"kind", item.Mutation.Kind,
				"dead_lettered", dead,
				"error", err,
			)
			return
		}
	}

	if sent > 0 || deadLettered > 0 {
		slog.Info("flush pass completed",
			"component", "engine",
			"action", "flush_complete",
			"sent", sent,
			"dead_lettered", deadLettered,
		)
	}
}

// completeItem finalizes a confirmed mutation: the queue entry goes away,
// a meal's buffered entity flips to Synced, and authoritative fields from
// the server replace the optimistic ones. A success for an item that was
// cancelled mid-flight is ignored entirely: the entity and cached meal are
// already gone, and applying the confirmation would bring them back.
func (e *Engine) completeItem(item types.QueueItem, conf gateway.Confirmation) {
	removed, err := e.queue.MarkSucceeded(item.ID)
	if err != nil {
		slog.Error("failed to remove succeeded item",
			"component", "engine",
			"action", "mark_succeeded_error",
			"item_id", item.ID,
			"error", err,
		)
		return
	}
	if !removed {
		slog.Debug("late success for cancelled item ignored",
			"component", "engine",
			"action", "cancelled_in_flight",
			"item_id", item.ID,
		)
		return
	}

	if p, ok := item.Mutation.Payload.(types.MealPayload); ok {
		if err := e.buffer.MarkSynced(p.EntityID); err != nil {
			slog.Error("failed to mark entity synced",
				"component", "engine",
				"action", "mark_synced_error",
				"entity_id", p.EntityID,
				"error", err,
			)
		}
		if conf.Meal != nil {
			e.state.ReplaceMeal(p.EntityID, *conf.Meal)
		}
	}

	if conf.DailyLog != nil {
		if err := e.state.SetDailyLog(conf.DailyLog); err != nil {
			slog.Error("failed to apply confirmed daily log",
				"component", "engine",
				"action", "apply_confirmed_error",
				"error", err,
			)
		}
	}
	if conf.Profile != nil {
		if err := e.state.SetProfile(conf.Profile); err != nil {
			slog.Error("failed to apply confirmed profile",
				"component", "engine",
				"action", "apply_confirmed_error",
				"error", err,
			)
		}
	}
}
