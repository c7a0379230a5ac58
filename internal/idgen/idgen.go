// Package idgen generates internal, non-wire identifiers; the Gateway uses
// them as connection handles. The wire-visible request/root id
// format is pinned exactly by spec.md §4.5 and lives in ipccontext instead —
// this package never produces anything that crosses the wire.
//
// Adapted from a ULID helper used elsewhere in the retrieved pack for log
// correlation ids: a monotonic entropy source seeded from crypto/rand keeps
// generation cheap while still producing unpredictable, lexicographically
// sortable ids.
package idgen

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	mrand "math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

var entropy *ulid.MonotonicEntropy

func init() {
	var seed int64
	_ = binary.Read(rand.Reader, binary.BigEndian, &seed)
	entropy = ulid.Monotonic(mrand.New(mrand.NewSource(seed)), 0)
}

// New returns a fresh ULID string for use as a connection handle or log id.
func New() string {
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		// Entropy source failure is effectively unrecoverable; fall back to
		// a timestamp-only id rather than blocking connection setup.
		return fmt.Sprintf("ts-%d", ulid.Timestamp(time.Now()))
	}
	return id.String()
}
