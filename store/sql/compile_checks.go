package sqlstore

import "github.com/goliatone/go-connectors/core"

var (
	_ core.CredentialStore          = (*CredentialStore)(nil)
	_ core.ExpiringCredentialLister = (*CredentialStore)(nil)
	_ core.CredentialStore          = (*CachedCredentialStore)(nil)
	_ core.ExpiringCredentialLister = (*CachedCredentialStore)(nil)
	_ core.ActivityLog              = (*ActivityStore)(nil)
)
