// Package ids issues entity identifiers.
package ids

import "github.com/oklog/ulid/v2"

// New returns a ULID string. Identifiers sort by creation time and stay
// ordered within one process even inside the same millisecond.
func New() string {
	return ulid.Make().String()
}
