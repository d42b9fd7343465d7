package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-connectors/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

const defaultActivityPageSize = 50

type ActivityStore struct {
	db   *bun.DB
	repo repository.Repository[*activityRecord]
}

func NewActivityStore(db *bun.DB) (*ActivityStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*activityRecord](db, activityHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid activity repository wiring: %w", err)
		}
	}
	return &ActivityStore{db: db, repo: repo}, nil
}

// Log appends one immutable entry. Secret-looking detail keys are masked.
func (s *ActivityStore) Log(ctx context.Context, entry core.ActivityEntry) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: activity store is not configured")
	}
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return core.NewBadInputError("activity action is required")
	}
	createdAt := entry.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	record := &activityRecord{
		UserEmail: normalizeKeyPart(entry.UserEmail),
		Provider:  normalizeKeyPart(entry.Provider),
		Action:    action,
		Details:   RedactDetails(entry.Details),
		CreatedAt: createdAt,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.NewStorageUnavailableError("activity_log", err)
	}
	return nil
}

// List returns matching entries newest first.
func (s *ActivityStore) List(ctx context.Context, filter core.ActivityFilter) ([]core.ActivityEntry, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: activity store is not configured")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultActivityPageSize
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	selectors := []repository.SelectCriteria{
		repository.OrderBy("created_at DESC"),
		repository.OrderBy("id DESC"),
		repository.SelectPaginate(limit, offset),
	}
	if user := normalizeKeyPart(filter.UserEmail); user != "" {
		selectors = append(selectors, repository.SelectBy("user_email", "=", user))
	}
	if provider := normalizeKeyPart(filter.Provider); provider != "" {
		selectors = append(selectors, repository.SelectBy("provider", "=", provider))
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		selectors = append(selectors, repository.SelectBy("action", "=", action))
	}

	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, core.NewStorageUnavailableError("activity_list", err)
	}
	out := make([]core.ActivityEntry, 0, len(records))
	for _, record := range records {
		out = append(out, core.ActivityEntry{
			ID:        record.ID,
			UserEmail: record.UserEmail,
			Provider:  record.Provider,
			Action:    record.Action,
			Details:   copyAnyMap(record.Details),
			CreatedAt: record.CreatedAt.UTC(),
		})
	}
	return out, nil
}
