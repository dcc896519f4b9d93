// Package workitem moves search requests between their sources (CSV files, a Redis list)
// and the engine that runs them.
package workitem

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/xkilldash9x/headline-cli/internal/article"
)

// ErrDrained is returned by a Source once it has no more items.
var ErrDrained = errors.New("work item source drained")

// Item is one unit of work: a payload plus the bookkeeping that travels with it.
type Item struct {
	ID         string          `json:"id"`
	Payload    article.Payload `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewItem stamps a payload with a fresh ID.
func NewItem(p article.Payload, now time.Time) Item {
	return Item{ID: uuid.NewString(), Payload: p, EnqueuedAt: now.UTC()}
}

// Source yields items until it returns ErrDrained.
type Source interface {
	Next(ctx context.Context) (Item, error)
}

// Sink accepts items, e.g. a producer filling the queue.
type Sink interface {
	Push(ctx context.Context, items ...Item) error
}

// FailureReporter records items that could not be completed, with the fault's metadata.
type FailureReporter interface {
	ReportFailure(ctx context.Context, item Item, reason string, metadata map[string]any) error
}

// SliceSource serves items from memory in order.
type SliceSource struct {
	items []Item
	pos   int
}

func NewSliceSource(items []Item) *SliceSource {
	return &SliceSource{items: items}
}

func (s *SliceSource) Next(ctx context.Context) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	if s.pos >= len(s.items) {
		return Item{}, ErrDrained
	}
	it := s.items[s.pos]
	s.pos++
	return it, nil
}
