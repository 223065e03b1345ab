package db

import "time"

// QueuedMessage is a message that failed delivery and is waiting in the
// retry queue. Rows are owned by the queue store: the flusher only reads
// and mutates them through its interface.
type QueuedMessage struct {
	ID          int64      `json:"id"`
	Sender      string     `json:"sender"`
	Body        string     `json:"body"`
	ReceivedAt  time.Time  `json:"received_at"`
	RetryCount  int        `json:"retry_count"`
	LeasedUntil *time.Time `json:"leased_until,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// HistoryRecord is an audit log entry for a confirmed successful delivery.
// Append-only; pruned by age and by total count.
type HistoryRecord struct {
	ID          int64     `json:"id"`
	Sender      string    `json:"sender"`
	Body        string    `json:"body"`
	ReceivedAt  time.Time `json:"received_at"`
	ToAddress   string    `json:"to_address"`
	FromAddress string    `json:"from_address"`
	SentAt      time.Time `json:"sent_at"`
	RetryCount  int       `json:"retry_count"`
}
