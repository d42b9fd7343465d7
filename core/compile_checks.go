package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ TokenSourceProvider = (*OAuthCoordinator)(nil)
	_ TokenSource         = TokenSourceFunc(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
