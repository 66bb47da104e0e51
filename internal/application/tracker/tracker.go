// Package tracker is the item deduplication store: it remembers which feed items
// have been seen and, independently, which ones finished the pipeline.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alejandrodnm/contrabot/internal/domain"
	"github.com/alejandrodnm/contrabot/internal/ports"
)

// Tracker wraps an ItemStore with the seen / processed policy.
type Tracker struct {
	store ports.ItemStore
	now   func() time.Time
}

// New creates a Tracker.
func New(store ports.ItemStore) *Tracker {
	return &Tracker{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the clock (tests).
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// HasSeen reports whether the item was ever recorded.
func (t *Tracker) HasSeen(ctx context.Context, id string) (bool, error) {
	it, err := t.store.GetItem(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("tracker.HasSeen: %w", err)
	}
	return it.Seen, nil
}

// IsProcessed reports whether the item completed the pipeline with a terminal outcome.
func (t *Tracker) IsProcessed(ctx context.Context, id string) (bool, error) {
	it, err := t.store.GetItem(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("tracker.IsProcessed: %w", err)
	}
	return it.Processed, nil
}

// MarkSeen records the item as seen. A second call for the same id fails with
// domain.ErrDuplicateItem unless override is set, in which case the metadata is
// refreshed and both flags stay as they were.
func (t *Tracker) MarkSeen(ctx context.Context, item domain.Item, override bool) error {
	if item.DetectedAt.IsZero() {
		item.DetectedAt = t.now()
	}
	err := t.store.InsertItem(ctx, item)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrDuplicateItem) && override {
		if err := t.store.UpdateItemMetadata(ctx, item); err != nil {
			return fmt.Errorf("tracker.MarkSeen: %w", err)
		}
		return nil
	}
	return fmt.Errorf("tracker.MarkSeen: %w", err)
}

// Bootstrap seeds every visible item as seen and processed on the first feed
// activation, so the channel's back-catalog is never replayed. Items recorded
// earlier in single-item mode do not count as an activation and are left as
// they are. Once the feed has been seeded it does nothing and returns false.
func (t *Tracker) Bootstrap(ctx context.Context, visible []domain.Item) (int, bool, error) {
	done, err := t.store.IsBootstrapped(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("tracker.Bootstrap: %w", err)
	}
	if done {
		return 0, false, nil
	}

	seeded, err := t.store.SeedItems(ctx, visible, t.now())
	if err != nil {
		return 0, false, fmt.Errorf("tracker.Bootstrap: %w", err)
	}
	slog.Info("first run: history initialized without processing", "items", seeded)
	return seeded, true, nil
}

// MarkProcessed sets the processed flag with a terminal outcome.
func (t *Tracker) MarkProcessed(ctx context.Context, id string, outcome domain.Outcome, summary *string) error {
	if !outcome.Terminal() {
		return fmt.Errorf("tracker.MarkProcessed %s: outcome %q is not terminal", id, outcome)
	}
	if err := t.store.MarkItemProcessed(ctx, id, outcome, summary, t.now()); err != nil {
		return fmt.Errorf("tracker.MarkProcessed: %w", err)
	}
	return nil
}

// MarkFailed keeps the item pending for the next run and records why it failed.
func (t *Tracker) MarkFailed(ctx context.Context, id string, cause error) error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	if err := t.store.MarkItemFailed(ctx, id, reason); err != nil {
		return fmt.Errorf("tracker.MarkFailed: %w", err)
	}
	return nil
}

// Pending returns the items that were seen but never finished, in detection order.
func (t *Tracker) Pending(ctx context.Context) ([]domain.Item, error) {
	items, err := t.store.ListPendingItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("tracker.Pending: %w", err)
	}
	return items, nil
}

// historyEntry is one row of the dedup-history document.
type historyEntry struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Published   *time.Time `json:"published,omitempty"`
	DetectedAt  time.Time  `json:"detected_at"`
	Seen        bool       `json:"seen"`
	Processed   bool       `json:"processed"`
	Outcome     string     `json:"outcome,omitempty"`
	Attempts    int        `json:"attempts,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// ExportHistory writes the dedup-history document as an indented JSON array.
func (t *Tracker) ExportHistory(ctx context.Context, w io.Writer) error {
	items, err := t.store.ListItems(ctx)
	if err != nil {
		return fmt.Errorf("tracker.ExportHistory: %w", err)
	}

	entries := make([]historyEntry, 0, len(items))
	for _, it := range items {
		e := historyEntry{
			ID: it.ID, Title: it.Title, Link: it.SourceURL, DetectedAt: it.DetectedAt,
			Seen: it.Seen, Processed: it.Processed, Outcome: string(it.Outcome),
			Attempts: it.Attempts, LastError: it.LastError, ProcessedAt: it.ProcessedAt,
		}
		if !it.PublishedAt.IsZero() {
			p := it.PublishedAt
			e.Published = &p
		}
		entries = append(entries, e)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("tracker.ExportHistory: encode: %w", err)
	}
	return nil
}
