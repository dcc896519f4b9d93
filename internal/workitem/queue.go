package workitem

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/headline-cli/internal/config"
)

const failedSuffix = ":failed"

// Failure is the record written for an item that could not be completed.
type Failure struct {
	Item     Item           `json:"item"`
	Reason   string         `json:"reason"`
	Metadata map[string]any `json:"metadata,omitempty"`
	FailedAt time.Time      `json:"failed_at"`
}

// Queue is a FIFO of items on a Redis list: producers LPUSH, consumers BRPOP.
// Failed items go to a sibling list named <key>:failed.
type Queue struct {
	client     *redis.Client
	key        string
	popTimeout time.Duration
	logger     *zap.Logger
}

var (
	_ Source          = (*Queue)(nil)
	_ Sink            = (*Queue)(nil)
	_ FailureReporter = (*Queue)(nil)
)

// NewQueue wraps an existing client. A popTimeout of zero makes Next non-blocking.
func NewQueue(client *redis.Client, key string, popTimeout time.Duration, logger *zap.Logger) *Queue {
	return &Queue{
		client:     client,
		key:        key,
		popTimeout: popTimeout,
		logger:     logger.Named("queue"),
	}
}

// Dial connects to the configured server and checks it answers.
func Dial(ctx context.Context, cfg config.QueueConfig, logger *zap.Logger) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Address, err)
	}
	return NewQueue(client, cfg.Key, cfg.PopTimeout, logger), nil
}

func (q *Queue) Key() string       { return q.key }
func (q *Queue) FailedKey() string { return q.key + failedSuffix }

func (q *Queue) Push(ctx context.Context, items ...Item) error {
	if len(items) == 0 {
		return nil
	}
	values := make([]any, 0, len(items))
	for _, it := range items {
		data, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("failed to encode item %s: %w", it.ID, err)
		}
		values = append(values, data)
	}
	if err := q.client.LPush(ctx, q.key, values...).Err(); err != nil {
		return fmt.Errorf("failed to push %d items: %w", len(items), err)
	}
	q.logger.Info("Work items enqueued.", zap.String("key", q.key), zap.Int("count", len(items)))
	return nil
}

// Next pops the oldest item. It returns ErrDrained when the list stays empty for the pop
// timeout. Undecodable entries are moved to the failed list and skipped.
func (q *Queue) Next(ctx context.Context) (Item, error) {
	for {
		raw, err := q.pop(ctx)
		if err != nil {
			return Item{}, err
		}
		var it Item
		if err := json.Unmarshal([]byte(raw), &it); err != nil {
			q.logger.Error("Discarding malformed work item.", zap.Error(err), zap.String("raw", raw))
			if perr := q.client.LPush(ctx, q.FailedKey(), raw).Err(); perr != nil {
				q.logger.Warn("Failed to park malformed item.", zap.Error(perr))
			}
			continue
		}
		return it, nil
	}
}

func (q *Queue) pop(ctx context.Context) (string, error) {
	if q.popTimeout <= 0 {
		raw, err := q.client.RPop(ctx, q.key).Result()
		if errors.Is(err, redis.Nil) {
			return "", ErrDrained
		}
		if err != nil {
			return "", fmt.Errorf("failed to pop work item: %w", err)
		}
		return raw, nil
	}

	res, err := q.client.BRPop(ctx, q.popTimeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrDrained
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("failed to pop work item: %w", err)
	}
	// BRPOP replies with [key, value].
	if len(res) != 2 {
		return "", fmt.Errorf("unexpected BRPOP reply of length %d", len(res))
	}
	return res[1], nil
}

func (q *Queue) ReportFailure(ctx context.Context, item Item, reason string, metadata map[string]any) error {
	data, err := json.Marshal(Failure{Item: item, Reason: reason, Metadata: metadata, FailedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode failure for %s: %w", item.ID, err)
	}
	if err := q.client.LPush(ctx, q.FailedKey(), data).Err(); err != nil {
		return fmt.Errorf("failed to record failure for %s: %w", item.ID, err)
	}
	return nil
}

// Failures lists recorded failures, newest first.
func (q *Queue) Failures(ctx context.Context) ([]Failure, error) {
	raws, err := q.client.LRange(ctx, q.FailedKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}
	out := make([]Failure, 0, len(raws))
	for _, raw := range raws {
		var f Failure
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			// Malformed items are parked verbatim.
			f = Failure{Reason: "malformed work item", Metadata: map[string]any{"raw": raw}}
		}
		out = append(out, f)
	}
	return out, nil
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

func (q *Queue) Close() error {
	return q.client.Close()
}
