package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// QueueStore handles database operations for the retry queue.
//
// The queue is size-bounded: enqueueing past the configured maximum evicts
// the oldest rows by receipt time. Dropping the oldest unsent messages under
// sustained outage is preferred to unbounded storage growth.
type QueueStore struct {
	db      *DB
	maxSize int
	logger  *zap.Logger
}

// enqueueLockKey is the advisory lock key serializing Enqueue transactions.
const enqueueLockKey = 0x736d7371 // "smsq"

// NewQueueStore creates a queue store with the given maximum size.
func NewQueueStore(db *DB, maxSize int, logger *zap.Logger) *QueueStore {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &QueueStore{
		db:      db,
		maxSize: maxSize,
		logger:  logger,
	}
}

// Enqueue inserts a failed message and enforces the queue size limit in the
// same transaction, so concurrent enqueues cannot overshoot the cap.
// Returns the assigned row ID and the number of evicted rows.
func (s *QueueStore) Enqueue(ctx context.Context, sender, body string, receivedAt time.Time) (int64, int, error) {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialize enqueues. Under READ COMMITTED two concurrent transactions
	// each see only their own insert in the COUNT below, target the same
	// oldest row, and the table settles one above the cap. The lock is
	// released at commit/rollback.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(enqueueLockKey)); err != nil {
		return 0, 0, fmt.Errorf("acquire enqueue lock: %w", err)
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO pending_messages (sender, body, received_at, retry_count)
		VALUES ($1, $2, $3, 0)
		RETURNING id
	`, sender, body, receivedAt).Scan(&id)
	if err != nil {
		return 0, 0, fmt.Errorf("insert pending message: %w", err)
	}

	var count int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM pending_messages`).Scan(&count); err != nil {
		return 0, 0, fmt.Errorf("count pending messages: %w", err)
	}

	evicted := 0
	if count > s.maxSize {
		result, err := tx.Exec(ctx, `
			DELETE FROM pending_messages
			WHERE id IN (
				SELECT id FROM pending_messages
				ORDER BY received_at ASC, id ASC
				LIMIT $1
			)
		`, count-s.maxSize)
		if err != nil {
			return 0, 0, fmt.Errorf("evict oldest pending messages: %w", err)
		}
		evicted = int(result.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("commit transaction: %w", err)
	}

	if evicted > 0 {
		s.logger.Warn("retry queue full, evicted oldest messages",
			zap.Int("evicted", evicted),
			zap.Int("max_size", s.maxSize),
		)
	}

	return id, evicted, nil
}

// LeaseOldest claims the oldest unleased message without removing it.
// The row stays invisible to other flushes until the lease expires or the
// caller deletes/releases it. Returns (nil, nil) when the queue is empty.
//
// SKIP LOCKED keeps two concurrent flushes from claiming the same row.
func (s *QueueStore) LeaseOldest(ctx context.Context, lease time.Duration) (*QueuedMessage, error) {
	var msg QueuedMessage
	err := s.db.Pool().QueryRow(ctx, `
		UPDATE pending_messages
		SET leased_until = NOW() + $1
		WHERE id = (
			SELECT id FROM pending_messages
			WHERE leased_until IS NULL OR leased_until < NOW()
			ORDER BY received_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, sender, body, received_at, retry_count, leased_until, created_at
	`, lease).Scan(
		&msg.ID,
		&msg.Sender,
		&msg.Body,
		&msg.ReceivedAt,
		&msg.RetryCount,
		&msg.LeasedUntil,
		&msg.CreatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease oldest pending message: %w", err)
	}

	return &msg, nil
}

// Delete removes a message from the queue after successful delivery.
func (s *QueueStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.Pool().Exec(ctx, `DELETE FROM pending_messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete pending message: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("pending message not found: %d", id)
	}
	return nil
}

// IncrementRetry bumps the retry counter after a failed attempt and releases
// the lease so the next flush can pick the row up again.
func (s *QueueStore) IncrementRetry(ctx context.Context, id int64) error {
	result, err := s.db.Pool().Exec(ctx, `
		UPDATE pending_messages
		SET retry_count = retry_count + 1, leased_until = NULL
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("increment retry count: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("pending message not found: %d", id)
	}
	return nil
}

// Release clears a lease without touching the retry counter. Used when a
// flush is interrupted before the delivery attempt completed.
func (s *QueueStore) Release(ctx context.Context, id int64) error {
	_, err := s.db.Pool().Exec(ctx, `
		UPDATE pending_messages SET leased_until = NULL WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("release pending message: %w", err)
	}
	return nil
}

// Size returns the number of queued messages.
func (s *QueueStore) Size(ctx context.Context) (int, error) {
	var count int
	if err := s.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM pending_messages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending messages: %w", err)
	}
	return count, nil
}

// List returns all queued messages, oldest first.
func (s *QueueStore) List(ctx context.Context) ([]*QueuedMessage, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT id, sender, body, received_at, retry_count, leased_until, created_at
		FROM pending_messages
		ORDER BY received_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query pending messages: %w", err)
	}
	defer rows.Close()

	var messages []*QueuedMessage
	for rows.Next() {
		var msg QueuedMessage
		err := rows.Scan(
			&msg.ID,
			&msg.Sender,
			&msg.Body,
			&msg.ReceivedAt,
			&msg.RetryCount,
			&msg.LeasedUntil,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan pending message: %w", err)
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return messages, nil
}

// Clear drops every queued message.
func (s *QueueStore) Clear(ctx context.Context) error {
	_, err := s.db.Pool().Exec(ctx, `DELETE FROM pending_messages`)
	if err != nil {
		return fmt.Errorf("clear pending messages: %w", err)
	}
	s.logger.Info("retry queue cleared")
	return nil
}
