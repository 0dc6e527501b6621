package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fitflow/fitflow/internal/buffer"
	"github.com/fitflow/fitflow/internal/config"
	"github.com/fitflow/fitflow/internal/queue"
	"github.com/fitflow/fitflow/internal/store"
)

var (
	dbPathOverride string
	jsonOutput     bool
)

// local bundles the offline components opened directly over the database,
// for inspection commands that run without the sync agent.
type local struct {
	cfg    *config.Config
	store  *store.Store
	queue  *queue.Queue
	buffer *buffer.Buffer
}

// resolveLocal opens the local database from config with optional --db override.
func resolveLocal() (*local, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dbPathOverride != "" {
		cfg.Database.Path = dbPathOverride
	}

	s, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	q := queue.New(s, cfg.Sync.MaxRetries, queue.Backoff{
		Base: time.Duration(cfg.Sync.BaseBackoff),
		Max:  time.Duration(cfg.Sync.MaxBackoff),
	})

	return &local{cfg: cfg, store: s, queue: q, buffer: buffer.New(s)}, nil
}

func (l *local) Close() error {
	return l.store.Close()
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
