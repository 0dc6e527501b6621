package fitflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fitflow/fitflow/internal/config"
	"github.com/fitflow/fitflow/internal/netmon"
	"github.com/fitflow/fitflow/internal/types"
	"github.com/go-chi/chi/v5"
)

// fakeBackend is a stand-in for the FitFlow API covering the full write
// and read surface. It tracks idempotency keys and assigns server IDs.
type fakeBackend struct {
	mu         sync.Mutex
	seenKeys   map[string]bool
	meals      []types.Meal
	deleted    []string
	waterTotal int
	profile    *types.Profile
	nextID     int
	requests   []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{seenKeys: make(map[string]bool)}
}

func (f *fakeBackend) record(r *http.Request) {
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
}

// replayed marks the key seen and reports whether it already was.
func (f *fakeBackend) replayed(r *http.Request) bool {
	key := r.Header.Get("Idempotency-Key")
	if f.seenKeys[key] {
		return true
	}
	f.seenKeys[key] = true
	return false
}

func (f *fakeBackend) router() http.Handler {
	r := chi.NewRouter()

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Post("/api/meals", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.record(r)
		if f.replayed(r) {
			w.WriteHeader(http.StatusConflict)
			return
		}

		var meal types.Meal
		json.NewDecoder(r.Body).Decode(&meal)
		f.nextID++
		meal.ID = fmt.Sprintf("srv-%d", f.nextID)
		f.meals = append(f.meals, meal)
		json.NewEncoder(w).Encode(map[string]any{
			"meal":      meal,
			"daily_log": types.DailyLog{Date: "2026-08-29", CaloriesIn: meal.Calories},
		})
	})

	r.Delete("/api/meals/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.record(r)
		if f.replayed(r) {
			w.WriteHeader(http.StatusConflict)
			return
		}
		f.deleted = append(f.deleted, chi.URLParam(r, "id"))
		w.WriteHeader(http.StatusOK)
	})

	r.Post("/api/daily/water", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.record(r)
		if f.replayed(r) {
			w.WriteHeader(http.StatusConflict)
			return
		}
		var p types.WaterPayload
		json.NewDecoder(r.Body).Decode(&p)
		f.waterTotal += p.ML
		json.NewEncoder(w).Encode(map[string]any{
			"daily_log": types.DailyLog{Date: "2026-08-29", WaterML: f.waterTotal},
		})
	})

	r.Put("/api/profile", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.record(r)
		if f.replayed(r) {
			w.WriteHeader(http.StatusConflict)
			return
		}
		var p types.Profile
		json.NewDecoder(r.Body).Decode(&p)
		f.profile = &p
		json.NewEncoder(w).Encode(map[string]any{"profile": p})
	})

	r.Patch("/api/meals/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.record(r)
		if f.replayed(r) {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/api/profile", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.Profile{Age: 28, DailyCalorieTarget: 2200})
	})
	r.Get("/api/daily", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(types.DailyLog{Date: "2026-08-29", WaterML: f.waterTotal})
	})
	r.Get("/api/meals/history", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string][]types.Meal{"meals": f.meals})
	})
	r.Get("/api/meals/tasks", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string][]types.Task{
			"tasks": {{ID: "t1", Name: "walk", Minutes: 25, Status: types.TaskPending}},
		})
	})

	return r
}

func (f *fakeBackend) requestLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.requests...)
}

func (f *fakeBackend) storedMeals() []types.Meal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Meal{}, f.meals...)
}

func testConfig(t *testing.T, dbPath, baseURL string) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Database.Path = dbPath
	cfg.Gateway.BaseURL = baseURL
	cfg.Gateway.Token = "test-token"
	cfg.Gateway.RequestTimeout = config.Duration(2 * time.Second)
	cfg.Sync.MaxRetries = 2
	cfg.Sync.BaseBackoff = config.Duration(time.Millisecond)
	cfg.Sync.MaxBackoff = config.Duration(10 * time.Millisecond)
	return cfg
}

func newTestClient(t *testing.T, dbPath string, online bool) (*Client, *fakeBackend, *netmon.ManualMonitor) {
	t.Helper()

	backend := newFakeBackend()
	server := httptest.NewServer(backend.router())
	t.Cleanup(server.Close)

	mon := netmon.NewManual(online)
	client, err := New(testConfig(t, dbPath, server.URL), WithMonitor(mon))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return client, backend, mon
}

func TestClient_OfflineMealSyncsOnReconnect(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fitflow.db")
	client, backend, mon := newTestClient(t, dbPath, false)

	meal, err := client.LogMealText(types.Meal{Food: "oatmeal", Calories: 320})
	if err != nil {
		t.Fatalf("LogMealText failed: %v", err)
	}
	if meal.ID == "" {
		t.Fatal("expected client-generated meal ID")
	}

	// Offline: everything is local and pending.
	if got := client.PendingSyncCount(); got != 1 {
		t.Errorf("pending count: got %d, want 1", got)
	}
	if meals := client.Meals(); len(meals) != 1 || meals[0].ID != meal.ID {
		t.Errorf("optimistic meal cache: %+v", meals)
	}
	unsynced, _ := client.UnsyncedEntities()
	if len(unsynced) != 1 {
		t.Fatalf("unsynced entities: %d, want 1", len(unsynced))
	}
	if reqs := backend.requestLog(); len(reqs) != 0 {
		t.Fatalf("no requests expected while offline, got %v", reqs)
	}

	// Reconnect and drain.
	mon.Set(true)
	client.Flush(context.Background())

	if got := client.PendingSyncCount(); got != 0 {
		t.Errorf("pending count after flush: got %d, want 0", got)
	}
	unsynced, _ = client.UnsyncedEntities()
	if len(unsynced) != 0 {
		t.Errorf("entities still unsynced after flush: %+v", unsynced)
	}
	// The server received the meal's content, not just its envelope.
	stored := backend.storedMeals()
	if len(stored) != 1 || stored[0].Food != "oatmeal" || stored[0].Calories != 320 {
		t.Errorf("server-side meal after sync: %+v", stored)
	}
	// The server-assigned meal replaced the optimistic one, content intact.
	meals := client.Meals()
	if len(meals) != 1 || meals[0].ID != "srv-1" {
		t.Errorf("meal cache after sync: %+v", meals)
	}
	if meals[0].Food != "oatmeal" || meals[0].Calories != 320 {
		t.Errorf("meal content lost through sync: %+v", meals[0])
	}
	// The confirmed daily log was applied.
	if log := client.DailyLog(); log == nil || log.CaloriesIn != 320 {
		t.Errorf("daily log after sync: %+v", log)
	}
}

func TestClient_DeleteUnsentMealNeverReachesServer(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fitflow.db")
	client, backend, mon := newTestClient(t, dbPath, false)

	meal, err := client.LogMealText(types.Meal{Food: "cake", Calories: 600})
	if err != nil {
		t.Fatalf("LogMealText failed: %v", err)
	}
	if err := client.DeleteMeal(meal.ID); err != nil {
		t.Fatalf("DeleteMeal failed: %v", err)
	}

	if got := client.PendingSyncCount(); got != 0 {
		t.Errorf("pending count: got %d, want 0", got)
	}
	if meals := client.Meals(); len(meals) != 0 {
		t.Errorf("meal cache: %+v", meals)
	}
	entities, _ := client.Entities()
	if len(entities) != 0 {
		t.Errorf("buffered entities: %+v", entities)
	}

	mon.Set(true)
	client.Flush(context.Background())

	if reqs := backend.requestLog(); len(reqs) != 0 {
		t.Errorf("cancelled meal should never reach the server, got %v", reqs)
	}
}

func TestClient_DeleteSyncedMealQueuesDelete(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fitflow.db")
	client, backend, _ := newTestClient(t, dbPath, true)

	if _, err := client.LogMealText(types.Meal{Food: "burger", Calories: 800}); err != nil {
		t.Fatalf("LogMealText failed: %v", err)
	}
	client.Flush(context.Background())

	// The synced meal now lives under its server ID.
	meals := client.Meals()
	if len(meals) != 1 {
		t.Fatalf("meal cache: %+v", meals)
	}

	if err := client.DeleteMeal(meals[0].ID); err != nil {
		t.Fatalf("DeleteMeal failed: %v", err)
	}
	client.Flush(context.Background())

	backend.mu.Lock()
	deleted := append([]string{}, backend.deleted...)
	backend.mu.Unlock()
	if len(deleted) != 1 || deleted[0] != meals[0].ID {
		t.Errorf("server deletions: %v, want [%s]", deleted, meals[0].ID)
	}
}

func TestClient_WaterAndProfileAndTask(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fitflow.db")
	client, backend, _ := newTestClient(t, dbPath, true)

	if err := client.LogWater(250); err != nil {
		t.Fatalf("LogWater failed: %v", err)
	}
	if err := client.LogWater(0); err == nil {
		t.Error("LogWater(0) should fail")
	}
	if err := client.UpdateProfile(types.Profile{Age: 31, DailyCalorieTarget: 1900}); err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}
	if err := client.CompleteTask("t1", types.TaskCompleted); err != nil {
		t.Fatalf("CompleteTask failed: %v", err)
	}

	client.Flush(context.Background())

	reqs := backend.requestLog()
	want := []string{"POST /api/daily/water", "PUT /api/profile", "PATCH /api/meals/tasks/t1"}
	if len(reqs) != len(want) {
		t.Fatalf("requests: %v, want %v", reqs, want)
	}
	for i := range want {
		if reqs[i] != want[i] {
			t.Errorf("request %d: got %q, want %q", i, reqs[i], want[i])
		}
	}

	// Water confirmation updated the daily log.
	if log := client.DailyLog(); log == nil || log.WaterML != 250 {
		t.Errorf("daily log: %+v", log)
	}
	if p := client.Profile(); p == nil || p.Age != 31 {
		t.Errorf("profile: %+v", p)
	}
}

func TestClient_QueueSurvivesRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fitflow.db")

	client, backend, _ := newTestClient(t, dbPath, false)
	if _, err := client.LogMealText(types.Meal{Food: "soup", Calories: 150}); err != nil {
		t.Fatalf("LogMealText failed: %v", err)
	}
	if err := client.LogWater(300); err != nil {
		t.Fatalf("LogWater failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if reqs := backend.requestLog(); len(reqs) != 0 {
		t.Fatalf("no requests expected before restart, got %v", reqs)
	}

	// Second launch over the same database, now online.
	reopened, backend2, _ := newTestClient(t, dbPath, true)

	if got := reopened.PendingSyncCount(); got != 2 {
		t.Fatalf("pending count after restart: got %d, want 2", got)
	}
	reopened.Flush(context.Background())

	if got := reopened.PendingSyncCount(); got != 0 {
		t.Errorf("pending count after drain: got %d, want 0", got)
	}
	reqs := backend2.requestLog()
	if len(reqs) != 2 || reqs[0] != "POST /api/meals" || reqs[1] != "POST /api/daily/water" {
		t.Errorf("requests after restart: %v", reqs)
	}
}

func TestClient_Rehydrate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fitflow.db")
	client, _, _ := newTestClient(t, dbPath, true)

	if err := client.Rehydrate(context.Background()); err != nil {
		t.Fatalf("Rehydrate failed: %v", err)
	}

	if p := client.Profile(); p == nil || p.Age != 28 {
		t.Errorf("profile: %+v", p)
	}
	if log := client.DailyLog(); log == nil || log.Date != "2026-08-29" {
		t.Errorf("daily log: %+v", log)
	}
	tasks := client.Tasks()
	if len(tasks) != 1 || tasks[0].ID != "t1" {
		t.Errorf("tasks: %+v", tasks)
	}
}

func TestClient_SignOutWipesEverything(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fitflow.db")
	client, _, _ := newTestClient(t, dbPath, false)

	if err := client.SignIn(types.Identity{UserID: "u1", Email: "u1@example.com"}); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if _, err := client.LogMealText(types.Meal{Food: "pizza", Calories: 900}); err != nil {
		t.Fatalf("LogMealText failed: %v", err)
	}

	if err := client.SignOut(); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}

	if id := client.Identity(); id != nil {
		t.Errorf("identity after sign-out: %+v", id)
	}
	if got := client.PendingSyncCount(); got != 0 {
		t.Errorf("pending count: got %d, want 0", got)
	}
	entities, _ := client.Entities()
	if len(entities) != 0 {
		t.Errorf("entities: %+v", entities)
	}
	if meals := client.Meals(); len(meals) != 0 {
		t.Errorf("meals: %+v", meals)
	}
}

func TestClient_StartRunsBackgroundSync(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fitflow.db")
	client, backend, mon := newTestClient(t, dbPath, false)

	if _, err := client.LogMealText(types.Meal{Food: "salad", Calories: 180}); err != nil {
		t.Fatalf("LogMealText failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := client.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}

	// Connectivity returns; the engine should drain without a manual flush.
	mon.Set(true)

	deadline := time.After(2 * time.Second)
	for client.PendingSyncCount() != 0 {
		select {
		case <-deadline:
			t.Fatalf("queue never drained; requests: %v", backend.requestLog())
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := client.LogWater(100); err != ErrClosed {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
}
