package webhooks

import (
	"context"
	"time"
)

// Delivery ledger statuses.
const (
	DeliveryStatusPending    = "pending"
	DeliveryStatusProcessed  = "processed"
	DeliveryStatusRetryReady = "retry_ready"
)

// DeliveryRecord is the ledger's view of one provider delivery. The
// dispatcher itself never deduplicates; hosts that need exactly-once
// handling reserve the delivery id here before dispatching.
type DeliveryRecord struct {
	ID            string
	Provider      string
	DeliveryID    string
	Status        string
	Attempts      int
	NextAttemptAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeliveryLedger records deliveries for dedup and retry bookkeeping.
// Reserve returns the existing record with duplicate=true when the
// delivery id was already claimed.
type DeliveryLedger interface {
	Reserve(ctx context.Context, provider, deliveryID string, payload []byte) (DeliveryRecord, bool, error)
	Get(ctx context.Context, provider, deliveryID string) (DeliveryRecord, error)
	MarkProcessed(ctx context.Context, provider, deliveryID string) error
	MarkRetry(ctx context.Context, provider, deliveryID string, cause error, nextAttemptAt time.Time) error
}
