// Package providers holds what the built-in provider packages share: the
// generic OAuth2 strategy, the connector transport settings and the payload
// readers used to decode provider JSON.
//
// Each subpackage describes one provider (its endpoints and quirks) and the
// connectors that sign in through it.
package providers
