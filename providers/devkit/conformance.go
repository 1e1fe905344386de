package devkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/worksync/go-trackers/ratelimit"
	"github.com/worksync/go-trackers/webhooks"
)

// ValidateDeliveryLedgerConformance runs the behavioral checks every
// DeliveryLedger implementation must pass: first reserve accepted,
// second reserve flagged as duplicate, retry bumps attempts, processed
// clears the retry schedule.
func ValidateDeliveryLedgerConformance(ctx context.Context, ledger webhooks.DeliveryLedger, provider, deliveryID string) error {
	if ledger == nil {
		return fmt.Errorf("devkit: delivery ledger is required")
	}

	record, duplicate, err := ledger.Reserve(ctx, provider, deliveryID, []byte(`{}`))
	if err != nil {
		return err
	}
	if duplicate {
		return fmt.Errorf("devkit: first reserve must not be a duplicate")
	}
	if record.Status != webhooks.DeliveryStatusPending {
		return fmt.Errorf("devkit: expected pending status, got %q", record.Status)
	}

	if _, duplicate, err = ledger.Reserve(ctx, provider, deliveryID, []byte(`{}`)); err != nil {
		return err
	} else if !duplicate {
		return fmt.Errorf("devkit: second reserve must report a duplicate")
	}

	retryAt := time.Now().UTC().Add(time.Minute)
	if err := ledger.MarkRetry(ctx, provider, deliveryID, errors.New("handler failed"), retryAt); err != nil {
		return err
	}
	record, err = ledger.Get(ctx, provider, deliveryID)
	if err != nil {
		return err
	}
	if record.Status != webhooks.DeliveryStatusRetryReady {
		return fmt.Errorf("devkit: expected retry_ready status, got %q", record.Status)
	}
	if record.Attempts == 0 {
		return fmt.Errorf("devkit: expected retry to bump attempts")
	}
	if record.NextAttemptAt == nil {
		return fmt.Errorf("devkit: expected retry schedule")
	}

	if err := ledger.MarkProcessed(ctx, provider, deliveryID); err != nil {
		return err
	}
	record, err = ledger.Get(ctx, provider, deliveryID)
	if err != nil {
		return err
	}
	if record.Status != webhooks.DeliveryStatusProcessed {
		return fmt.Errorf("devkit: expected processed status, got %q", record.Status)
	}
	if record.NextAttemptAt != nil {
		return fmt.Errorf("devkit: processed delivery must not keep a retry schedule")
	}
	return nil
}

// ValidateSnapshotStoreConformance checks the SnapshotStore contract:
// missing keys return ErrSnapshotNotFound, upserts read back under the
// normalized key, and a second upsert replaces the first.
func ValidateSnapshotStoreConformance(ctx context.Context, store ratelimit.SnapshotStore, key ratelimit.Key) error {
	if store == nil {
		return fmt.Errorf("devkit: snapshot store is required")
	}

	if _, err := store.Get(ctx, key); !errors.Is(err, ratelimit.ErrSnapshotNotFound) {
		return fmt.Errorf("devkit: expected ErrSnapshotNotFound for missing key, got %v", err)
	}

	now := time.Now().UTC()
	snapshot := ratelimit.Snapshot{
		Key:        ratelimit.NormalizeKey(key),
		Tokens:     3.5,
		LastRefill: now,
		UpdatedAt:  now,
	}
	if err := store.Upsert(ctx, snapshot); err != nil {
		return err
	}
	loaded, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	if loaded.Tokens != snapshot.Tokens {
		return fmt.Errorf("devkit: expected tokens %v, got %v", snapshot.Tokens, loaded.Tokens)
	}

	snapshot.Tokens = 0.25
	snapshot.UpdatedAt = now.Add(time.Second)
	if err := store.Upsert(ctx, snapshot); err != nil {
		return err
	}
	loaded, err = store.Get(ctx, key)
	if err != nil {
		return err
	}
	if loaded.Tokens != 0.25 {
		return fmt.Errorf("devkit: expected upsert to replace tokens, got %v", loaded.Tokens)
	}
	return nil
}
