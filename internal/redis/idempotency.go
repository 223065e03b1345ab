package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// ContentKeyTTL covers auto-derived (content-based) keys. Long enough
	// to absorb webhook retries, short enough that a genuinely repeated
	// SMS (same sender, same text) still gets through later.
	ContentKeyTTL = 5 * time.Minute

	// ClientKeyTTL covers keys the caller supplied explicitly via the
	// Idempotency-Key header; the caller controls uniqueness, so the
	// window is generous.
	ClientKeyTTL = 24 * time.Hour

	// processingTTL bounds the reservation while an event is in flight.
	processingTTL = 5 * time.Minute

	processingMarker = "processing"
)

// ErrDuplicateEvent indicates the same message event is already being
// processed or was recently processed.
var ErrDuplicateEvent = errors.New("duplicate message event")

// EventReceipt is the cached outcome of an already-processed event.
type EventReceipt struct {
	EventID   string `json:"event_id"`
	Outcome   string `json:"outcome"`
	CreatedAt int64  `json:"created_at"`
}

// IdempotencyService deduplicates inbound message events. SMS gateways
// and webhook callers redeliver on timeouts; without this every
// redelivery would email the same text again.
type IdempotencyService struct {
	client *Client
	logger *zap.Logger
}

// NewIdempotencyService creates a new idempotency service.
func NewIdempotencyService(client *Client, logger *zap.Logger) *IdempotencyService {
	return &IdempotencyService{
		client: client,
		logger: logger,
	}
}

// ContentKey derives a deterministic key from the event itself, for
// callers that do not send an Idempotency-Key header.
func ContentKey(sender, body string, receivedAt time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d", sender, body, receivedAt.Unix())
	return hex.EncodeToString(h.Sum(nil))
}

func (s *IdempotencyService) buildKey(key string) string {
	return fmt.Sprintf("idempotency:event:%s", key)
}

// Check retrieves the receipt for a key. Returns (nil, nil) when the key
// is unknown, the receipt when the event already completed, or
// ErrDuplicateEvent when it is mid-flight.
func (s *IdempotencyService) Check(ctx context.Context, key string) (*EventReceipt, error) {
	val, err := s.client.rdb.Get(ctx, s.buildKey(key)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	if val == processingMarker {
		return nil, ErrDuplicateEvent
	}

	var receipt EventReceipt
	if err := json.Unmarshal([]byte(val), &receipt); err != nil {
		s.logger.Error("failed to unmarshal event receipt", zap.Error(err))
		return nil, fmt.Errorf("invalid cached receipt: %w", err)
	}

	s.logger.Debug("idempotency cache hit",
		zap.String("event_id", receipt.EventID),
	)
	return &receipt, nil
}

// Reserve claims a key with SET NX. Returns false when another delivery
// of the same event holds it.
func (s *IdempotencyService) Reserve(ctx context.Context, key string) (bool, error) {
	set, err := s.client.rdb.SetNX(ctx, s.buildKey(key), processingMarker, processingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return set, nil
}

// CheckOrReserve returns the cached receipt if the event already ran,
// otherwise reserves the key for this delivery. A nil receipt with nil
// error means the reservation succeeded and the caller should proceed.
func (s *IdempotencyService) CheckOrReserve(ctx context.Context, key string) (*EventReceipt, error) {
	receipt, err := s.Check(ctx, key)
	if err != nil {
		return nil, err
	}
	if receipt != nil {
		return receipt, nil
	}

	reserved, err := s.Reserve(ctx, key)
	if err != nil {
		return nil, err
	}
	if !reserved {
		// Lost the race to a concurrent delivery of the same event.
		return s.Check(ctx, key)
	}
	return nil, nil
}

// Complete replaces the reservation with the final receipt.
func (s *IdempotencyService) Complete(ctx context.Context, key string, receipt *EventReceipt, ttl time.Duration) error {
	if receipt.CreatedAt == 0 {
		receipt.CreatedAt = time.Now().Unix()
	}

	data, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}
	if err := s.client.rdb.Set(ctx, s.buildKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Release drops a reservation after a processing error so the caller can
// retry the event.
func (s *IdempotencyService) Release(ctx context.Context, key string) error {
	if err := s.client.rdb.Del(ctx, s.buildKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
