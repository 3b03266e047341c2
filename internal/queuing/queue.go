// Package queuing provides the two pipeline job queues on top of redis
// lists. Delivery is at-least-once: a message whose handler fails is pushed
// back with an incremented delivery counter until the redelivery budget is
// spent. Consumers stay idempotent because every artifact they write is
// content-addressed by manuscript key.
package queuing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// AnalysisQueue carries editorial jobs.
	AnalysisQueue = "analysis"
	// AssetQueue carries asset generation jobs.
	AssetQueue = "assets"

	keyPrefix = "queue:"

	defaultPollInterval  = 2 * time.Second
	defaultMaxDeliveries = 3
)

// Publisher is the submission-side contract.
type Publisher interface {
	Publish(ctx context.Context, payload any) error
}

// Handler processes one delivered message body. A non-nil error requests
// redelivery.
type Handler func(ctx context.Context, payload []byte) error

type envelope struct {
	Deliveries int             `json:"deliveries"`
	Payload    json.RawMessage `json:"payload"`
}

// RedisQueue is one named redis-list queue.
type RedisQueue struct {
	client        *redis.Client
	name          string
	logger        zerolog.Logger
	pollInterval  time.Duration
	maxDeliveries int
}

// Options tunes consumer behaviour. Zero values fall back to defaults.
type Options struct {
	PollInterval  time.Duration
	MaxDeliveries int
}

func NewRedisQueue(client *redis.Client, name string, logger zerolog.Logger, opts Options) *RedisQueue {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = defaultMaxDeliveries
	}
	return &RedisQueue{
		client:        client,
		name:          name,
		logger:        logger.With().Str("queue", name).Logger(),
		pollInterval:  opts.PollInterval,
		maxDeliveries: opts.MaxDeliveries,
	}
}

// Publish enqueues payload as a first-delivery envelope.
func (q *RedisQueue) Publish(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("queue %s: marshal payload: %w", q.name, err)
	}
	raw, err := json.Marshal(envelope{Deliveries: 1, Payload: body})
	if err != nil {
		return fmt.Errorf("queue %s: marshal envelope: %w", q.name, err)
	}
	if err := q.client.LPush(ctx, keyPrefix+q.name, raw).Err(); err != nil {
		return fmt.Errorf("queue %s: publish: %w", q.name, err)
	}
	return nil
}

// Run consumes messages until ctx is cancelled. Each message is handled to
// completion before the next is popped; jobs can run for many minutes.
func (q *RedisQueue) Run(ctx context.Context, handler Handler) error {
	q.logger.Info().Msg("queue: consumer started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := q.client.BRPop(ctx, q.pollInterval, keyPrefix+q.name).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.logger.Error().Err(err).Msg("queue: pop failed")
			time.Sleep(q.pollInterval)
			continue
		}
		if len(res) < 2 {
			continue
		}

		requeue, decision := consume(ctx, []byte(res[1]), handler, q.maxDeliveries)
		switch decision {
		case decisionDone:
		case decisionRequeue:
			if err := q.client.LPush(ctx, keyPrefix+q.name, requeue).Err(); err != nil {
				q.logger.Error().Err(err).Msg("queue: redelivery push failed")
			}
		case decisionDrop:
			q.logger.Error().Int("max_deliveries", q.maxDeliveries).Msg("queue: message dropped after redelivery budget")
		case decisionMalformed:
			q.logger.Error().Msg("queue: malformed envelope dropped")
		}
	}
}

type decision int

const (
	decisionDone decision = iota
	decisionRequeue
	decisionDrop
	decisionMalformed
)

// consume runs the handler for one raw envelope and decides what happens to
// the message afterwards. Split out so redelivery accounting is testable
// without redis.
func consume(ctx context.Context, raw []byte, handler Handler, maxDeliveries int) ([]byte, decision) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, decisionMalformed
	}
	if env.Deliveries < 1 {
		env.Deliveries = 1
	}

	if err := handler(ctx, env.Payload); err != nil {
		if env.Deliveries >= maxDeliveries {
			return nil, decisionDrop
		}
		env.Deliveries++
		requeue, marshalErr := json.Marshal(env)
		if marshalErr != nil {
			return nil, decisionMalformed
		}
		return requeue, decisionRequeue
	}
	return nil, decisionDone
}
