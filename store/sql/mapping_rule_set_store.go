package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/worksync/go-trackers/mapping"
)

var ErrRuleSetNotFound = errors.New("sqlstore: mapping rule set not found")

// MappingRuleSetStore persists per-provider field mapping rules so
// hosts can manage them without redeploying. Each save bumps the
// version; Load returns the latest.
type MappingRuleSetStore struct {
	db   *bun.DB
	repo repository.Repository[*mappingRuleSetRecord]
}

func NewMappingRuleSetStore(db *bun.DB) (*MappingRuleSetStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*mappingRuleSetRecord](db, mappingRuleSetHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid mapping rule set repository wiring: %w", err)
		}
	}
	return &MappingRuleSetStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *MappingRuleSetStore) Save(
	ctx context.Context,
	provider string,
	resourceType string,
	rules []mapping.Rule,
) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: mapping rule set store is not configured")
	}
	provider = strings.TrimSpace(strings.ToLower(provider))
	resourceType = strings.TrimSpace(strings.ToLower(resourceType))
	if provider == "" || resourceType == "" {
		return 0, fmt.Errorf("sqlstore: provider and resource type are required")
	}
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return 0, err
		}
	}

	version := 0
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := &mappingRuleSetRecord{}
		err := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.provider = ?", provider).
			Where("?TableAlias.resource_type = ?", resourceType).
			OrderExpr("?TableAlias.version DESC").
			Limit(1).
			Scan(ctx)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if err == nil {
			version = existing.Version
		}
		version++

		now := time.Now().UTC()
		record := &mappingRuleSetRecord{
			ID:           uuid.NewString(),
			Provider:     provider,
			ResourceType: resourceType,
			Version:      version,
			Rules:        append([]mapping.Rule(nil), rules...),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		_, insertErr := tx.NewInsert().Model(record).Exec(ctx)
		return insertErr
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (s *MappingRuleSetStore) Load(
	ctx context.Context,
	provider string,
	resourceType string,
) ([]mapping.Rule, int, error) {
	if s == nil || s.db == nil {
		return nil, 0, fmt.Errorf("sqlstore: mapping rule set store is not configured")
	}
	record := &mappingRuleSetRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider = ?", strings.TrimSpace(strings.ToLower(provider))).
		Where("?TableAlias.resource_type = ?", strings.TrimSpace(strings.ToLower(resourceType))).
		OrderExpr("?TableAlias.version DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, 0, ErrRuleSetNotFound
		}
		return nil, 0, err
	}
	return append([]mapping.Rule(nil), record.Rules...), record.Version, nil
}
