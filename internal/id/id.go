// Package id generates content identifiers: short, collision-resistant,
// and lexicographically sortable by creation time (CUID-like: a monotonic
// timestamp prefix plus randomness), backed by UUIDv7.
package id

import "github.com/google/uuid"

// New returns a new content id. UUIDv7's layout (48-bit millisecond
// timestamp followed by random bits) gives the monotonic-prefix +
// randomness shape the content store's id invariant requires, without
// pulling in a bespoke CUID library.
func New() string {
	u, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the OS entropy source is broken; fall back
		// to a pure-random id rather than panicking on an id-generation path.
		u = uuid.New()
	}
	return u.String()
}
