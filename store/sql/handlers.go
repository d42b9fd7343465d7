package sqlstore

import (
	"strconv"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func tokenHandlers() repository.ModelHandlers[*tokenRecord] {
	return repository.ModelHandlers[*tokenRecord]{
		NewRecord: func() *tokenRecord {
			return &tokenRecord{}
		},
		GetID: func(record *tokenRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *tokenRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *tokenRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

// activityHandlers serve reads only; rows are keyed by an autoincrement id
// assigned on insert.
func activityHandlers() repository.ModelHandlers[*activityRecord] {
	return repository.ModelHandlers[*activityRecord]{
		NewRecord: func() *activityRecord {
			return &activityRecord{}
		},
		GetID: func(*activityRecord) uuid.UUID {
			return uuid.Nil
		},
		SetID: func(*activityRecord, uuid.UUID) {},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *activityRecord) string {
			if record == nil {
				return ""
			}
			return strconv.FormatInt(record.ID, 10)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
