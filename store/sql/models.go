package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/worksync/go-trackers/mapping"
)

type webhookDeliveryRecord struct {
	bun.BaseModel `bun:"table:tracker_webhook_deliveries,alias:twd"`

	ID            string     `bun:"id,pk"`
	Provider      string     `bun:"provider,notnull"`
	DeliveryID    string     `bun:"delivery_id,notnull"`
	Status        string     `bun:"status,notnull"`
	Attempts      int        `bun:"attempts,notnull"`
	NextAttemptAt *time.Time `bun:"next_attempt_at,nullzero"`
	Payload       []byte     `bun:"payload"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type rateLimitSnapshotRecord struct {
	bun.BaseModel `bun:"table:tracker_rate_limit_snapshots,alias:trls"`

	ID                  string         `bun:"id,pk"`
	Provider            string         `bun:"provider,notnull"`
	OrgID               string         `bun:"org_id,notnull"`
	Tokens              float64        `bun:"tokens,notnull"`
	LastRefill          time.Time      `bun:"last_refill,nullzero,notnull"`
	ComplexityRemaining int            `bun:"complexity_remaining,notnull"`
	ComplexityResetAt   *time.Time     `bun:"complexity_reset_at,nullzero"`
	Metadata            map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt           time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt           time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type mappingRuleSetRecord struct {
	bun.BaseModel `bun:"table:tracker_mapping_rule_sets,alias:tmrs"`

	ID           string         `bun:"id,pk"`
	Provider     string         `bun:"provider,notnull"`
	ResourceType string         `bun:"resource_type,notnull"`
	Version      int            `bun:"version,notnull"`
	Rules        []mapping.Rule `bun:"rules,type:jsonb,notnull"`
	CreatedAt    time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
