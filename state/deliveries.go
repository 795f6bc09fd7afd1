package state

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"
)

// ErrDuplicateDelivery indicates the delivery ID was already recorded and has not expired.
var ErrDuplicateDelivery = errors.New("state: duplicate delivery")

// DefaultDeliveryTTL bounds how long a delivery ID suppresses redeliveries.
const DefaultDeliveryTTL = 24 * time.Hour

// DeliveryStore records webhook deliveries for idempotency.
type DeliveryStore interface {
	// RecordDelivery reports whether the delivery was new.
	RecordDelivery(ctx context.Context, delivery Delivery) (bool, error)
	// ForgetDelivery releases a delivery ID so a redelivery is accepted.
	ForgetDelivery(ctx context.Context, deliveryID string) error
	PurgeExpiredDeliveries(ctx context.Context, now time.Time) (int, error)
}

func normalizeDelivery(delivery Delivery) (Delivery, error) {
	if delivery.DeliveryID == "" {
		return Delivery{}, errors.New("delivery id required")
	}
	if delivery.ReceivedAt.IsZero() {
		delivery.ReceivedAt = time.Now().UTC()
	}
	if delivery.ExpiresAt.IsZero() {
		delivery.ExpiresAt = delivery.ReceivedAt.Add(DefaultDeliveryTTL)
	}
	return delivery, nil
}

// RecordDelivery inserts the delivery unless an unexpired row with the same ID exists.
func (s *Store) RecordDelivery(ctx context.Context, delivery Delivery) (bool, error) {
	delivery, err := normalizeDelivery(delivery)
	if err != nil {
		return false, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
DELETE FROM webhook_deliveries
WHERE delivery_id = $1 AND expires_at <= $2
`, delivery.DeliveryID, delivery.ReceivedAt); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO webhook_deliveries (delivery_id, event_key, event_type, repository, pr_number, action, received_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, delivery.DeliveryID, delivery.EventKey, delivery.EventType, delivery.Repository, delivery.PRNumber, delivery.Action,
			delivery.ReceivedAt, delivery.ExpiresAt); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateDelivery
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateDelivery) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) ForgetDelivery(ctx context.Context, deliveryID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM webhook_deliveries WHERE delivery_id = $1`, deliveryID)
	return err
}

// PurgeExpiredDeliveries deletes deliveries whose TTL has passed.
func (s *Store) PurgeExpiredDeliveries(ctx context.Context, now time.Time) (int, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM webhook_deliveries WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

// MemoryDeliveries is an in-process DeliveryStore for deployments without Postgres.
type MemoryDeliveries struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryDeliveries() *MemoryDeliveries {
	return &MemoryDeliveries{
		expires: make(map[string]time.Time),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryDeliveries) RecordDelivery(ctx context.Context, delivery Delivery) (bool, error) {
	if delivery.ReceivedAt.IsZero() {
		delivery.ReceivedAt = m.now()
	}
	delivery, err := normalizeDelivery(delivery)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if expiresAt, ok := m.expires[delivery.DeliveryID]; ok && expiresAt.After(delivery.ReceivedAt) {
		return false, nil
	}
	m.expires[delivery.DeliveryID] = delivery.ExpiresAt
	return true, nil
}

func (m *MemoryDeliveries) ForgetDelivery(ctx context.Context, deliveryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.expires, deliveryID)
	return nil
}

func (m *MemoryDeliveries) PurgeExpiredDeliveries(ctx context.Context, now time.Time) (int, error) {
	if now.IsZero() {
		now = m.now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	purged := 0
	for id, expiresAt := range m.expires {
		if !expiresAt.After(now) {
			delete(m.expires, id)
			purged++
		}
	}
	return purged, nil
}

// Len returns the number of tracked deliveries.
func (m *MemoryDeliveries) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.expires)
}

var (
	_ DeliveryStore = (*Store)(nil)
	_ DeliveryStore = (*MemoryDeliveries)(nil)
)
