package core

import (
	"strings"
	"time"
)

// CredentialTokenState captures lifecycle flags derived from a stored record.
type CredentialTokenState struct {
	ExpiresAt       *time.Time
	HasAccessToken  bool
	HasRefreshToken bool
	CanAutoRefresh  bool
	IsExpired       bool
	IsExpiringSoon  bool
	NeverExpires    bool
}

// ResolveCredentialTokenState evaluates expiry and refreshability for record.
func ResolveCredentialTokenState(now time.Time, record TokenRecord, cfg ProviderConfig, buffer time.Duration) CredentialTokenState {
	if now.IsZero() {
		now = systemClock()
	} else {
		now = now.UTC()
	}
	if buffer <= 0 {
		buffer = DefaultRefreshBuffer
	}

	state := CredentialTokenState{
		HasAccessToken:  strings.TrimSpace(record.AccessToken) != "",
		HasRefreshToken: record.HasRefreshToken(),
		CanAutoRefresh:  cfg.Quirks.IssuesRefreshToken && record.HasRefreshToken(),
	}
	if record.ExpiresAt.IsZero() {
		state.IsExpired = true
		return state
	}
	expiresAt := record.ExpiresAt.UTC()
	state.ExpiresAt = &expiresAt
	if record.NeverExpires() {
		state.NeverExpires = true
		return state
	}
	if !expiresAt.After(now) {
		state.IsExpired = true
		return state
	}
	state.IsExpiringSoon = !expiresAt.After(now.Add(buffer))
	return state
}

// ShouldRefresh reports whether a refresh is worth attempting before use.
func (s CredentialTokenState) ShouldRefresh() bool {
	if !s.CanAutoRefresh || s.NeverExpires {
		return false
	}
	return !s.HasAccessToken || s.IsExpired || s.IsExpiringSoon
}

// applyGrant folds a token response into the stored record. A missing refresh
// token keeps the previous one; a missing expiry falls back to the provider default.
func applyGrant(now time.Time, cfg ProviderConfig, base TokenRecord, grant TokenGrant) TokenRecord {
	record := base.Clone()
	record.AccessToken = strings.TrimSpace(grant.AccessToken)
	if refresh := strings.TrimSpace(grant.RefreshToken); refresh != "" {
		record.RefreshToken = refresh
	}
	if !cfg.Quirks.IssuesRefreshToken && strings.TrimSpace(grant.RefreshToken) == "" {
		record.RefreshToken = ""
	}

	switch {
	case cfg.Quirks.NoExpiry:
		record.ExpiresAt = NoExpirySentinel
	case !grant.Expiry.IsZero():
		record.ExpiresAt = grant.Expiry.UTC()
	default:
		record.ExpiresAt = now.Add(cfg.ExpiresIn()).UTC()
	}

	if scopes := normalizeScopes(grant.Scopes); len(scopes) > 0 {
		record.Scopes = scopes
	}
	if len(grant.Metadata) > 0 {
		if record.Metadata == nil {
			record.Metadata = map[string]any{}
		}
		for key, value := range grant.Metadata {
			record.Metadata[key] = value
		}
	}
	return record
}

func expiresAtPointer(record TokenRecord) *time.Time {
	if record.ExpiresAt.IsZero() {
		return nil
	}
	value := record.ExpiresAt.UTC()
	return &value
}
