package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// HistoryStore handles database operations for the sent-history log.
type HistoryStore struct {
	db         *DB
	retention  time.Duration
	maxRecords int
	logger     *zap.Logger
}

// NewHistoryStore creates a history store. Records older than retention, and
// the oldest records beyond maxRecords, are pruned before every append.
func NewHistoryStore(db *DB, retention time.Duration, maxRecords int, logger *zap.Logger) *HistoryStore {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	if maxRecords <= 0 {
		maxRecords = 1000
	}
	return &HistoryStore{
		db:         db,
		retention:  retention,
		maxRecords: maxRecords,
		logger:     logger,
	}
}

// Append inserts a delivery record, pruning expired and excess rows first so
// storage stays bounded without a separate maintenance job.
func (s *HistoryStore) Append(ctx context.Context, rec *HistoryRecord) (int64, error) {
	if _, err := s.PruneOlderThan(ctx, time.Now().Add(-s.retention)); err != nil {
		// Pruning failure should not block the append itself.
		s.logger.Warn("history prune failed", zap.Error(err))
	}
	if err := s.pruneExcess(ctx); err != nil {
		s.logger.Warn("history excess prune failed", zap.Error(err))
	}

	var id int64
	err := s.db.Pool().QueryRow(ctx, `
		INSERT INTO sent_history (sender, body, received_at, to_address, from_address, sent_at, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`,
		rec.Sender,
		rec.Body,
		rec.ReceivedAt,
		rec.ToAddress,
		rec.FromAddress,
		rec.SentAt,
		rec.RetryCount,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert history record: %w", err)
	}

	rec.ID = id
	return id, nil
}

// ListRecent returns records sent at or after since, newest first.
func (s *HistoryStore) ListRecent(ctx context.Context, since time.Time, limit int) ([]*HistoryRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Pool().Query(ctx, `
		SELECT id, sender, body, received_at, to_address, from_address, sent_at, retry_count
		FROM sent_history
		WHERE sent_at >= $1
		ORDER BY sent_at DESC, id DESC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	return scanHistoryRows(rows)
}

// Search returns records whose sender or body contains the keyword, newest
// first. An empty keyword behaves like ListRecent from the zero time.
func (s *HistoryStore) Search(ctx context.Context, keyword string, limit int) ([]*HistoryRecord, error) {
	if keyword == "" {
		return s.ListRecent(ctx, time.Time{}, limit)
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Pool().Query(ctx, `
		SELECT id, sender, body, received_at, to_address, from_address, sent_at, retry_count
		FROM sent_history
		WHERE sender ILIKE '%' || $1 || '%' OR body ILIKE '%' || $1 || '%'
		ORDER BY sent_at DESC, id DESC
		LIMIT $2
	`, keyword, limit)
	if err != nil {
		return nil, fmt.Errorf("search history: %w", err)
	}
	defer rows.Close()

	return scanHistoryRows(rows)
}

// DeleteByID removes a single record.
func (s *HistoryStore) DeleteByID(ctx context.Context, id int64) error {
	result, err := s.db.Pool().Exec(ctx, `DELETE FROM sent_history WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete history record: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("history record not found: %d", id)
	}
	return nil
}

// DeleteAll wipes the history log.
func (s *HistoryStore) DeleteAll(ctx context.Context) error {
	_, err := s.db.Pool().Exec(ctx, `DELETE FROM sent_history`)
	if err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	s.logger.Info("sent history cleared")
	return nil
}

// PruneOlderThan deletes records sent before cutoff and reports the count.
func (s *HistoryStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.Pool().Exec(ctx, `DELETE FROM sent_history WHERE sent_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// pruneExcess trims the oldest rows beyond the record cap, leaving room for
// the record about to be inserted.
func (s *HistoryStore) pruneExcess(ctx context.Context) error {
	_, err := s.db.Pool().Exec(ctx, `
		DELETE FROM sent_history
		WHERE id IN (
			SELECT id FROM sent_history
			ORDER BY sent_at ASC, id ASC
			LIMIT GREATEST(0, (SELECT COUNT(*) FROM sent_history) - $1 + 1)
		)
	`, s.maxRecords)
	return err
}

func scanHistoryRows(rows pgx.Rows) ([]*HistoryRecord, error) {
	var records []*HistoryRecord
	for rows.Next() {
		var rec HistoryRecord
		err := rows.Scan(
			&rec.ID,
			&rec.Sender,
			&rec.Body,
			&rec.ReceivedAt,
			&rec.ToAddress,
			&rec.FromAddress,
			&rec.SentAt,
			&rec.RetryCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return records, nil
}
