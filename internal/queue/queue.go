// Package queue is the sharded Redis-stream work queue: one logical stream
// per (site, geoid, category) triple, a consumer group per stream, and a
// mirrored dead-letter stream per shard. Delivery is at-least-once; duplicate
// publishes inside a 24h window are suppressed by an idempotency key.
package queue

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dealscout/dealscout/internal/models"
	"github.com/dealscout/dealscout/internal/observability"
)

const (
	defaultIdempotencyTTL = 24 * time.Hour
	defaultMaxRetries     = 5
	readBlock             = time.Second
)

// Handler processes one decoded task.
type Handler func(ctx context.Context, task models.TaskPayload) error

// Monitor receives out-of-band alerts (DLQ overflow).
type Monitor interface {
	Notify(ctx context.Context, msg string)
}

// Queue publishes and consumes scrape tasks over sharded Redis streams.
type Queue struct {
	client            *redis.Client
	base              string
	idempotencyTTL    time.Duration
	maxRetries        int
	overflowThreshold int64
	monitor           Monitor

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

// New builds a queue over client with the given base stream name.
func New(client *redis.Client, base string) *Queue {
	return &Queue{
		client:         client,
		base:           base,
		idempotencyTTL: defaultIdempotencyTTL,
		maxRetries:     defaultMaxRetries,
		sleep:          time.Sleep,
	}
}

// WithMonitor attaches a DLQ overflow alert sink.
func (q *Queue) WithMonitor(m Monitor, threshold int64) *Queue {
	q.monitor = m
	q.overflowThreshold = threshold
	return q
}

// ShardStream returns the stream name for a shard tuple. Empty geoid or
// category collapse to the literal "none"; an empty site selects the
// unsharded base stream.
func (q *Queue) ShardStream(site, geoid, category string) string {
	if site == "" {
		return q.base
	}
	if geoid == "" {
		geoid = "none"
	}
	if category == "" {
		category = "none"
	}
	return strings.Join([]string{q.base, site, geoid, category}, ":")
}

func (q *Queue) ensureGroup(ctx context.Context, stream, group string) error {
	err := q.client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("queue: create group %s: %w", group, err)
	}
	return nil
}

// Publish validates and appends a task to its shard stream. A duplicate of a
// task published within the idempotency window is dropped silently.
func (q *Queue) Publish(ctx context.Context, task models.TaskPayload) error {
	if err := task.Validate(); err != nil {
		return err
	}
	return q.append(ctx, task, 0, false, true)
}

// append is the raw stream write. Retry requeues and DLQ hand-offs bypass
// the idempotency gate so a legitimate redelivery is never swallowed.
func (q *Queue) append(ctx context.Context, task models.TaskPayload, retries int, dlq, gate bool) error {
	stream := q.ShardStream(task.Site, task.GeoID, task.Category)
	if dlq {
		stream += ":dlq"
	}
	if err := q.ensureGroup(ctx, stream, stream+":group"); err != nil {
		return err
	}

	idemKey := task.IdempotencyKey()
	if gate {
		ok, err := q.client.SetNX(ctx, stream+":idem:"+idemKey, 1, q.idempotencyTTL).Result()
		if err != nil {
			return fmt.Errorf("queue: idempotency gate: %w", err)
		}
		if !ok {
			zap.L().Debug("duplicate task dropped", zap.String("key", idemKey))
			return nil
		}
	}

	data, err := task.Encode()
	if err != nil {
		return err
	}
	values := map[string]any{
		"data":            data,
		"idempotency_key": idemKey,
	}
	if retries > 0 {
		values["retries"] = strconv.Itoa(retries)
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Err(); err != nil {
		return fmt.Errorf("queue: xadd %s: %w", stream, err)
	}
	if !dlq {
		observability.TasksPublished.WithLabelValues(task.Site).Inc()
	}
	return nil
}

// Consume runs the shard's read loop until ctx is cancelled. Each message is
// acked and deleted regardless of outcome; failed tasks are requeued with
// backoff or dead-lettered per the retry policy.
func (q *Queue) Consume(ctx context.Context, consumerName, site, geoid, category string, handler Handler) error {
	stream := q.ShardStream(site, geoid, category)
	group := stream + ":group"
	if err := q.ensureGroup(ctx, stream, group); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumerName,
			Streams:  []string{stream, ">"},
			Count:    1,
			Block:    readBlock,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			zap.L().Error("queue read", zap.String("stream", stream), zap.Error(err))
			q.sleep(readBlock)
			continue
		}

		for _, str := range res {
			for _, msg := range str.Messages {
				q.handleMessage(ctx, stream, group, msg, handler)
			}
		}
	}
}

func (q *Queue) handleMessage(ctx context.Context, stream, group string, msg redis.XMessage, handler Handler) {
	defer func() {
		q.client.XAck(ctx, stream, group, msg.ID)
		q.client.XDel(ctx, stream, msg.ID)
	}()

	retries := fieldInt(msg.Values, "retries")
	task, err := models.DecodeTask(fieldString(msg.Values, "data"))
	if err != nil {
		zap.L().Error("undecodable task dropped", zap.String("id", msg.ID), zap.Error(err))
		return
	}

	err = handler(ctx, task)
	switch {
	case err == nil:
	case IsPermanent(err):
		zap.L().Warn("task dead-lettered", zap.String("site", task.Site), zap.Error(err))
		q.deadLetter(ctx, task, retries)
	case httpStatus(err) >= 400 && httpStatus(err) < 600:
		zap.L().Warn("task dead-lettered on http status",
			zap.Int("status", httpStatus(err)), zap.String("url", task.URL))
		q.deadLetter(ctx, task, retries)
	case retries+1 >= q.maxRetries:
		zap.L().Warn("task exhausted retries", zap.String("site", task.Site), zap.Error(err))
		q.deadLetter(ctx, task, retries+1)
	default:
		backoff := time.Duration((math.Pow(2, float64(retries)) + rand.Float64()) * float64(time.Second))
		zap.L().Info("task requeued",
			zap.Int("retries", retries+1), zap.Duration("backoff", backoff), zap.Error(err))
		q.sleep(backoff)
		if err := q.append(ctx, task, retries+1, false, false); err != nil {
			zap.L().Error("requeue failed", zap.Error(err))
		}
	}
}

func (q *Queue) deadLetter(ctx context.Context, task models.TaskPayload, retries int) {
	if err := q.append(ctx, task, retries, true, false); err != nil {
		zap.L().Error("dead-letter publish failed", zap.Error(err))
	}
}

// ConsumeDLQ drains the shard's dead-letter stream, counting each processed
// task and tracking the backlog gauge. Crossing the overflow threshold
// raises a monitoring alert.
func (q *Queue) ConsumeDLQ(ctx context.Context, consumerName, site, geoid, category string, handler Handler) error {
	stream := q.ShardStream(site, geoid, category) + ":dlq"
	group := stream + ":group"
	if err := q.ensureGroup(ctx, stream, group); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumerName,
			Streams:  []string{stream, ">"},
			Count:    1,
			Block:    readBlock,
		}).Result()
		if err == redis.Nil {
			q.trackBacklog(ctx, stream)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			zap.L().Error("dlq read", zap.String("stream", stream), zap.Error(err))
			q.sleep(readBlock)
			continue
		}

		for _, str := range res {
			for _, msg := range str.Messages {
				task, derr := models.DecodeTask(fieldString(msg.Values, "data"))
				if derr == nil {
					if herr := handler(ctx, task); herr != nil {
						zap.L().Error("dlq handler", zap.Error(herr))
					}
				}
				observability.DLQTasks.Inc()
				q.client.XAck(ctx, stream, group, msg.ID)
				q.client.XDel(ctx, stream, msg.ID)
				q.trackBacklog(ctx, stream)
			}
		}
	}
}

func (q *Queue) trackBacklog(ctx context.Context, stream string) {
	backlog, err := q.client.XLen(ctx, stream).Result()
	if err != nil {
		return
	}
	observability.DLQBacklog.Set(float64(backlog))
	if q.monitor != nil && q.overflowThreshold > 0 && backlog > q.overflowThreshold {
		q.monitor.Notify(ctx, fmt.Sprintf("DLQ overflow: %d messages in %s", backlog, stream))
	}
}

func fieldString(values map[string]any, key string) string {
	s, _ := values[key].(string)
	return s
}

func fieldInt(values map[string]any, key string) int {
	n, _ := strconv.Atoi(fieldString(values, key))
	return n
}
