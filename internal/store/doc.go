// Package store defines interfaces for persisting tracked runs. Implementations
// live in other packages; this package must not import database drivers or
// concrete clients.
package store
