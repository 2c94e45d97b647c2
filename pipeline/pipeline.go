// Package pipeline implements MessagePipeline: at-least-once consume
// with bounded retry, exponential backoff with jitter, and dead-letter
// quarantine, built on Redis Streams consumer groups
// (XADD/XGROUP CREATE/XREADGROUP/XACK map onto the
// topic/partition/consumer-group/offset vocabulary spec.md uses).
// Consume reads only new entries (">"); entries left unacked in a
// group's pending list are not re-read or claimed by this package.
package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/models"
	"github.com/tracepost-larvae/agecred/safelog"
)

// State mirrors spec.md §4.4's consumer state machine. It is exposed
// for tests and operational introspection; the consume loop below
// drives it directly.
type State string

const (
	StateIdle         State = "Idle"
	StateProcessing   State = "Processing"
	StateBackingOff   State = "BackingOff"
	StatePublishingDlq State = "PublishingDlq"
	StateCrashed      State = "Crashed"
)

// Handler processes one message's raw payload. Returning an error
// triggers the retry/backoff path.
type Handler func(ctx context.Context, payload []byte) error

// Config tunes retry/backoff/DLQ behavior per spec.md §4.4 and §6.
type Config struct {
	MaxAttempts   int
	BackoffBaseMs int
	BackoffMaxMs  int
	JitterPct     float64
	DLQEnabled    bool
	DLQSuffix     string
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:   5,
		BackoffBaseMs: 200,
		BackoffMaxMs:  30000,
		JitterPct:     0.2,
		DLQEnabled:    true,
		DLQSuffix:     ".DLQ",
	}
}

// Pipeline is the Redis Streams-backed MessagePipeline.
type Pipeline struct {
	rdb    *redis.Client
	cfg    Config
	log    *safelog.Logger
	mu     sync.Mutex
	states map[string]State
}

func New(rdb *redis.Client, cfg Config, log *safelog.Logger) *Pipeline {
	return &Pipeline{rdb: rdb, cfg: cfg, log: log, states: map[string]State{}}
}

// Publish appends payload to topic's stream (XADD), giving at-least-once
// delivery once any consumer group reads it.
func (p *Pipeline) Publish(ctx context.Context, topic string, payload []byte) error {
	err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{"payload": payload},
	}).Err()
	if err != nil {
		return apperr.Wrap(apperr.SystemError, "publishing message", err)
	}
	return nil
}

// EnsureGroup creates the consumer group for topic if it doesn't exist
// yet (mkstream so the topic need not be pre-created).
func (p *Pipeline) EnsureGroup(ctx context.Context, topic, group string) error {
	err := p.rdb.XGroupCreateMkStream(ctx, topic, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return apperr.Wrap(apperr.SystemError, "creating consumer group", err)
	}
	return nil
}

func (p *Pipeline) setState(partitionKey string, s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[partitionKey] = s
}

// State returns the current processing state for a (topic, consumer)
// partition key.
func (p *Pipeline) State(partitionKey string) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.states[partitionKey]; ok {
		return s
	}
	return StateIdle
}

// Consume runs one partition's consumer loop: each message is read via
// XREADGROUP, processed by handler with retry+backoff, and either
// XACK'd on success or quarantined to the DLQ stream on exhaustion. It
// blocks until ctx is cancelled — callers run one goroutine per
// partition, composed by a supervisor (generalizing the teacher's
// RateLimitMiddleware background-cleanup goroutine to N partitions).
func (p *Pipeline) Consume(ctx context.Context, topic, group, consumer string, handler Handler) error {
	partitionKey := topic + "/" + consumer
	if err := p.EnsureGroup(ctx, topic, group); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			p.setState(partitionKey, StateIdle)
			return nil
		default:
		}

		p.setState(partitionKey, StateIdle)
		streams, err := p.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{topic, ">"},
			Count:    1,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			p.log.Warn("pipeline.read_error", loggableFields(topic, group, err))
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				p.processMessage(ctx, topic, group, partitionKey, msg, handler)
			}
		}
	}
}

func (p *Pipeline) processMessage(ctx context.Context, topic, group, partitionKey string, msg redis.XMessage, handler Handler) {
	raw, ok := msg.Values["payload"]
	if !ok {
		p.ack(ctx, topic, group, msg.ID)
		return
	}
	payload, err := payloadBytes(raw)
	if err != nil {
		p.quarantine(ctx, topic, group, msg.ID, nil, 0, "DeserializationException", err.Error())
		p.ack(ctx, topic, group, msg.ID)
		return
	}

	p.setState(partitionKey, StateProcessing)
	attempt := 0
	for {
		attempt++
		err := handler(ctx, payload)
		if err == nil {
			p.ack(ctx, topic, group, msg.ID)
			p.setState(partitionKey, StateIdle)
			return
		}
		if attempt >= p.cfg.MaxAttempts {
			p.setState(partitionKey, StatePublishingDlq)
			if dlqErr := p.quarantine(ctx, topic, group, msg.ID, payload, attempt, errorType(err), err.Error()); dlqErr != nil {
				p.setState(partitionKey, StateCrashed)
				p.log.Error("pipeline.dlq_publish_failed_crashing", dlqErr, loggableFields(topic, group, nil))
				return
			}
			p.ack(ctx, topic, group, msg.ID)
			p.setState(partitionKey, StateIdle)
			return
		}
		p.setState(partitionKey, StateBackingOff)
		if !p.sleepBackoff(ctx, attempt) {
			return // context cancelled mid-sleep; message stays unacked in the group's pending list
		}
	}
}

func (p *Pipeline) ack(ctx context.Context, topic, group, id string) {
	_ = p.rdb.XAck(ctx, topic, group, id).Err()
}

// sleepBackoff implements min(maxBackoff, base*2^(attempt-1)) * (1 +
// jitter*U[-1,1]), returning false if ctx was cancelled mid-sleep.
func (p *Pipeline) sleepBackoff(ctx context.Context, attempt int) bool {
	backoffMs := float64(p.cfg.BackoffBaseMs) * pow2(attempt-1)
	if backoffMs > float64(p.cfg.BackoffMaxMs) {
		backoffMs = float64(p.cfg.BackoffMaxMs)
	}
	jitter := 1 + p.cfg.JitterPct*(2*rand.Float64()-1)
	d := time.Duration(backoffMs*jitter) * time.Millisecond
	if d < 0 {
		d = 0
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func pow2(n int) float64 {
	if n <= 0 {
		return 1
	}
	out := 1.0
	for i := 0; i < n; i++ {
		out *= 2
	}
	return out
}

var sensitiveHeaderKey = regexp.MustCompile(`(?i)^(authorization|token|secret|cookie|password|apikey|set-cookie|x-api-key|session)$`)

// quarantine builds a DlqEnvelope and publishes it to <topic>.DLQ.
func (p *Pipeline) quarantine(ctx context.Context, topic, group, msgID string, payload []byte, attempt int, errType, errMsg string) error {
	if !p.cfg.DLQEnabled {
		return nil
	}
	env := models.DlqEnvelope{
		SchemaVersion:         1,
		OriginalTopic:         topic,
		ConsumerGroup:         group,
		SanitizedHeaders:      map[string]string{},
		OriginalPayloadBase64: base64.StdEncoding.EncodeToString(payload),
		Error:                 errMsg,
		ErrorType:             errType,
		FailedAtUtc:           time.Now().UTC(),
		AttemptCount:          attempt,
		DlqMessageID:          deterministicID(topic, msgID),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return apperr.Wrap(apperr.SystemError, "marshaling dlq envelope", err)
	}
	return p.Publish(ctx, topic+p.cfg.DLQSuffix, data)
}

func deterministicID(topic, msgID string) string {
	return fmt.Sprintf("dlq-%s-%s", topic, msgID)
}

func errorType(err error) string {
	return string(apperr.CodeOf(err))
}

// RedactHeaders applies spec.md §4.4's header sanitization rule to an
// arbitrary header map before it's embedded in a DlqEnvelope.
func RedactHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if sensitiveHeaderKey.MatchString(k) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}

func payloadBytes(raw interface{}) ([]byte, error) {
	switch v := raw.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return nil, apperr.New(apperr.SystemError, "unsupported payload type")
	}
}

func loggableFields(topic, group string, err error) logrus.Fields {
	f := logrus.Fields{"topic": topic, "group": group}
	if err != nil {
		f["detail"] = apperr.CodeOf(err)
	}
	return f
}
