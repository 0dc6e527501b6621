//go:build e2e

package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/fitflow/fitflow/internal/config"
	"github.com/fitflow/fitflow/internal/netmon"
	"github.com/fitflow/fitflow/internal/types"
	"github.com/fitflow/fitflow/pkg/fitflow"
	"github.com/go-chi/chi/v5"
)

// failureMode controls how the backend answers write requests.
type failureMode int

const (
	modeOK failureMode = iota
	modeServerError            // 500 on every write
	modeUnavailable            // 503 on every write
	modeAuthExpired            // 401 on every write
	modeRejectPayload          // 422 on every write
)

// backend is a failure-injecting FitFlow API for resilience scenarios.
type backend struct {
	mu       sync.Mutex
	mode     failureMode
	seenKeys map[string]int
	meals    []types.Meal
	water    int
	nextID   int
}

func newBackend() *backend {
	return &backend{seenKeys: make(map[string]int)}
}

func (b *backend) setMode(m failureMode) {
	b.mu.Lock()
	b.mode = m
	b.mu.Unlock()
}

// deliveries returns how many times each idempotency key arrived.
func (b *backend) deliveries(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seenKeys[key]
}

func (b *backend) mealCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.meals)
}

func (b *backend) waterTotal() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.water
}

// write wraps a write handler with failure injection and idempotency replay.
// Returns false when the request was answered by the wrapper.
func (b *backend) write(w http.ResponseWriter, r *http.Request) bool {
	key := r.Header.Get("Idempotency-Key")
	b.seenKeys[key]++

	switch b.mode {
	case modeServerError:
		http.Error(w, `{"detail":"internal error"}`, http.StatusInternalServerError)
		return false
	case modeUnavailable:
		http.Error(w, `{"detail":"try later"}`, http.StatusServiceUnavailable)
		return false
	case modeAuthExpired:
		http.Error(w, `{"detail":"token expired"}`, http.StatusUnauthorized)
		return false
	case modeRejectPayload:
		http.Error(w, `{"detail":"invalid payload"}`, http.StatusUnprocessableEntity)
		return false
	}

	if b.seenKeys[key] > 1 {
		w.WriteHeader(http.StatusConflict)
		return false
	}
	return true
}

func (b *backend) router() http.Handler {
	r := chi.NewRouter()

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.mode == modeUnavailable || b.mode == modeServerError {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	r.Post("/api/meals", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if !b.write(w, r) {
			return
		}
		var meal types.Meal
		json.NewDecoder(r.Body).Decode(&meal)
		b.nextID++
		meal.ID = "srv-" + strconv.Itoa(b.nextID)
		b.meals = append(b.meals, meal)
		json.NewEncoder(w).Encode(map[string]any{"meal": meal})
	})

	r.Post("/api/daily/water", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if !b.write(w, r) {
			return
		}
		var p types.WaterPayload
		json.NewDecoder(r.Body).Decode(&p)
		b.water += p.ML
		json.NewEncoder(w).Encode(map[string]any{
			"daily_log": types.DailyLog{WaterML: b.water},
		})
	})

	r.Put("/api/profile", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if !b.write(w, r) {
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	return r
}

// startClient spins up a backend and a client over a fresh database with
// aggressive retry timings. The returned monitor is manual so scenarios
// control connectivity.
func startClient(t *testing.T, b *backend) (*fitflow.Client, *netmon.ManualMonitor) {
	t.Helper()
	return startClientAt(t, b, tempDBPath(t))
}

func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "fitflow.db")
}

// startClientAt is startClient over a specific database path, for restart
// scenarios that reopen the same state.
func startClientAt(t *testing.T, b *backend, dbPath string) (*fitflow.Client, *netmon.ManualMonitor) {
	t.Helper()

	server := httptest.NewServer(b.router())
	t.Cleanup(server.Close)

	cfg := config.Defaults()
	cfg.Database.Path = dbPath
	cfg.Gateway.BaseURL = server.URL
	cfg.Gateway.Token = "e2e-token"
	cfg.Gateway.RequestTimeout = config.Duration(2 * time.Second)
	cfg.Sync.MaxRetries = 3
	cfg.Sync.BaseBackoff = config.Duration(5 * time.Millisecond)
	cfg.Sync.MaxBackoff = config.Duration(50 * time.Millisecond)

	mon := netmon.NewManual(true)
	client, err := fitflow.New(cfg, fitflow.WithMonitor(mon))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return client, mon
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(d)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
