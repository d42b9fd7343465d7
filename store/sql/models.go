package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type tokenRecord struct {
	bun.BaseModel `bun:"table:oauth_tokens,alias:ot"`

	ID           string         `bun:"id,notnull"`
	UserEmail    string         `bun:"user_email,pk"`
	Provider     string         `bun:"provider,pk"`
	AccessToken  string         `bun:"access_token,notnull"`
	RefreshToken *string        `bun:"refresh_token"`
	ExpiresAt    time.Time      `bun:"expires_at,notnull"`
	Scopes       []string       `bun:"scopes,type:jsonb,notnull"`
	Metadata     map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt    time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type activityRecord struct {
	bun.BaseModel `bun:"table:activity_log,alias:al"`

	ID        int64          `bun:"id,pk,autoincrement"`
	UserEmail string         `bun:"user_email,notnull"`
	Provider  string         `bun:"provider,notnull"`
	Action    string         `bun:"action,notnull"`
	Details   map[string]any `bun:"details,type:jsonb,notnull"`
	CreatedAt time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
