package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/worksync/go-trackers/ratelimit"
)

// RateLimitSnapshotStore persists limiter bucket state so admission
// control survives restarts.
type RateLimitSnapshotStore struct {
	db   *bun.DB
	repo repository.Repository[*rateLimitSnapshotRecord]
}

func NewRateLimitSnapshotStore(db *bun.DB) (*RateLimitSnapshotStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*rateLimitSnapshotRecord](db, rateLimitSnapshotHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid rate-limit snapshot repository wiring: %w", err)
		}
	}
	return &RateLimitSnapshotStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *RateLimitSnapshotStore) Get(ctx context.Context, key ratelimit.Key) (ratelimit.Snapshot, error) {
	if s == nil || s.db == nil {
		return ratelimit.Snapshot{}, fmt.Errorf("sqlstore: rate-limit snapshot store is not configured")
	}
	key = ratelimit.NormalizeKey(key)
	if err := validateSnapshotKey(key); err != nil {
		return ratelimit.Snapshot{}, err
	}

	record := &rateLimitSnapshotRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider = ?", key.Provider).
		Where("?TableAlias.org_id = ?", key.OrgID).
		OrderExpr("?TableAlias.updated_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return ratelimit.Snapshot{}, ratelimit.ErrSnapshotNotFound
		}
		return ratelimit.Snapshot{}, err
	}
	return record.toDomain(), nil
}

func (s *RateLimitSnapshotStore) Upsert(ctx context.Context, snapshot ratelimit.Snapshot) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: rate-limit snapshot store is not configured")
	}
	snapshot.Key = ratelimit.NormalizeKey(snapshot.Key)
	if err := validateSnapshotKey(snapshot.Key); err != nil {
		return err
	}
	if snapshot.UpdatedAt.IsZero() {
		snapshot.UpdatedAt = time.Now().UTC()
	}
	snapshot.Metadata = copyAnyMap(snapshot.Metadata)

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findSnapshotTx(ctx, tx, snapshot.Key)
		if err != nil {
			return err
		}
		created := false
		if record == nil {
			created = true
			record = &rateLimitSnapshotRecord{
				ID:        uuid.NewString(),
				Provider:  snapshot.Key.Provider,
				OrgID:     snapshot.Key.OrgID,
				CreatedAt: snapshot.UpdatedAt,
			}
		}
		record.Tokens = snapshot.Tokens
		record.LastRefill = snapshot.LastRefill.UTC()
		record.ComplexityRemaining = snapshot.ComplexityRemaining
		record.ComplexityResetAt = copyTimePointer(snapshot.ComplexityResetAt)
		record.Metadata = snapshot.Metadata
		record.UpdatedAt = snapshot.UpdatedAt.UTC()

		if created {
			_, insertErr := tx.NewInsert().Model(record).Exec(ctx)
			return insertErr
		}
		_, updateErr := tx.NewUpdate().
			Model(record).
			Where("id = ?", record.ID).
			Exec(ctx)
		return updateErr
	})
}

func (r *rateLimitSnapshotRecord) toDomain() ratelimit.Snapshot {
	if r == nil {
		return ratelimit.Snapshot{}
	}
	snapshot := ratelimit.Snapshot{
		Key:                 ratelimit.Key{Provider: r.Provider, OrgID: r.OrgID},
		Tokens:              r.Tokens,
		LastRefill:          r.LastRefill,
		ComplexityRemaining: r.ComplexityRemaining,
		UpdatedAt:           r.UpdatedAt,
		Metadata:            copyAnyMap(r.Metadata),
	}
	snapshot.ComplexityResetAt = copyTimePointer(r.ComplexityResetAt)
	return snapshot
}

func findSnapshotTx(ctx context.Context, tx bun.Tx, key ratelimit.Key) (*rateLimitSnapshotRecord, error) {
	record := &rateLimitSnapshotRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.provider = ?", key.Provider).
		Where("?TableAlias.org_id = ?", key.OrgID).
		OrderExpr("?TableAlias.updated_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func validateSnapshotKey(key ratelimit.Key) error {
	if key.Provider == "" {
		return fmt.Errorf("sqlstore: rate-limit snapshot provider is required")
	}
	if key.OrgID == "" {
		return fmt.Errorf("sqlstore: rate-limit snapshot org id is required")
	}
	return nil
}

func copyTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}

var _ ratelimit.SnapshotStore = (*RateLimitSnapshotStore)(nil)
