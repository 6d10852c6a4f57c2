// Package ids generates time-sortable identifiers for deliveries and for
// events reconstructed from wire messages that carry no ID of their own.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a ULID encoded as a 26-character string. Identifiers produced
// by a single process are strictly increasing.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
