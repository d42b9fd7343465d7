// Package core contains the credential lifecycle and connector dispatch
// contracts, entities, and orchestration logic. Provider adapters, stores and
// transports depend on this package; core must not depend on them.
package core
