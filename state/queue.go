package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrQueueEmpty indicates that no queue items are available for dispatch.
var ErrQueueEmpty = errors.New("state: queue empty")

// MaxQueueAttempts caps deliveries of one queue item; later claims skip it.
const MaxQueueAttempts = 3

// EnqueueAnalysis publishes an analysis job. A delivery is enqueued at most once.
func (s *Store) EnqueueAnalysis(ctx context.Context, deliveryID string, payload json.RawMessage, availableAt time.Time) (int64, error) {
	if deliveryID == "" {
		return 0, errors.New("delivery id required")
	}
	if availableAt.IsZero() {
		availableAt = time.Now().UTC()
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
INSERT INTO analysis_queue (delivery_id, payload, available_at)
VALUES ($1, $2, $3)
ON CONFLICT (delivery_id)
DO UPDATE SET available_at = EXCLUDED.available_at,
              locked_until = NULL,
              updated_at = NOW()
RETURNING id
`, deliveryID, []byte(payload), availableAt).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ClaimAnalysis returns the next available job and hides it for the visibility window.
func (s *Store) ClaimAnalysis(ctx context.Context, now time.Time, visibilityTimeout time.Duration) (QueueItem, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}

	var item QueueItem
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var payload []byte
		row := tx.QueryRowContext(ctx, `
SELECT id, delivery_id, payload, attempts
FROM analysis_queue
WHERE available_at <= $1
  AND (locked_until IS NULL OR locked_until <= $1)
  AND attempts < $2
ORDER BY available_at ASC, id ASC
FOR UPDATE SKIP LOCKED
LIMIT 1
`, now, MaxQueueAttempts)
		if err := row.Scan(&item.ID, &item.DeliveryID, &payload, &item.Attempts); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrQueueEmpty
			}
			return err
		}
		item.Payload = json.RawMessage(payload)

		if _, err := tx.ExecContext(ctx, `
UPDATE analysis_queue
SET locked_until = $2,
    attempts = attempts + 1,
    updated_at = NOW()
WHERE id = $1
`, item.ID, now.Add(visibilityTimeout)); err != nil {
			return err
		}
		item.Attempts++
		return nil
	})
	if err != nil {
		return QueueItem{}, err
	}
	return item, nil
}

// AckAnalysis removes a finished job from the queue.
func (s *Store) AckAnalysis(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM analysis_queue WHERE id = $1`, id)
	return expectRow(result, err, id)
}

// ReleaseAnalysis returns a claimed job to the queue without counting the
// claim as an attempt.
func (s *Store) ReleaseAnalysis(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
UPDATE analysis_queue
SET locked_until = NULL,
    attempts = GREATEST(attempts - 1, 0),
    updated_at = NOW()
WHERE id = $1
`, id)
	return expectRow(result, err, id)
}

// ExtendAnalysis moves the lock of a running job to until.
func (s *Store) ExtendAnalysis(ctx context.Context, id int64, until time.Time) error {
	result, err := s.db.ExecContext(ctx, `
UPDATE analysis_queue
SET locked_until = $2,
    updated_at = NOW()
WHERE id = $1
`, id, until)
	return expectRow(result, err, id)
}

func expectRow(result sql.Result, err error, id int64) error {
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: queue item %d", ErrNotFound, id)
	}
	return nil
}

// PurgeExhaustedAnalyses deletes jobs that used up their attempts. Their
// delivery records go too, so a GitHub redelivery is accepted again.
func (s *Store) PurgeExhaustedAnalyses(ctx context.Context) (int, error) {
	var purged int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
DELETE FROM analysis_queue
WHERE attempts >= $1
  AND (locked_until IS NULL OR locked_until <= NOW())
RETURNING delivery_id
`, MaxQueueAttempts)
		if err != nil {
			return err
		}
		var deliveryIDs []string
		for rows.Next() {
			var deliveryID string
			if err := rows.Scan(&deliveryID); err != nil {
				rows.Close()
				return err
			}
			deliveryIDs = append(deliveryIDs, deliveryID)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
		for _, deliveryID := range deliveryIDs {
			if _, err := tx.ExecContext(ctx, `DELETE FROM webhook_deliveries WHERE delivery_id = $1`, deliveryID); err != nil {
				return err
			}
		}
		purged = len(deliveryIDs)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}
