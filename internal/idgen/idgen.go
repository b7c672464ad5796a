// Package idgen generates the 128-bit time-ordered identifiers used for
// every entity created in the system (spec.md §3: "All identifiers are
// 128-bit time-ordered values, creation-time comparable").
package idgen

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// entropy is a monotonic source shared across calls so that ids minted
// within the same millisecond still sort in call order. ulid.Monotonic
// is not safe for concurrent use on its own, hence the mutex.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New mints a 128-bit, creation-time-comparable identifier for domain
// records: entities, identifiers, relationships, cached results, entity
// profiles, investigation requests. String-sortable, so a lexical sort
// over ids is also a creation-time sort.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewWithTime mints an id for a caller-supplied timestamp, used when
// backfilling or replaying audit history where the id must reflect the
// original event time rather than wall-clock now.
func NewWithTime(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	return id.String()
}

// Timestamp extracts the creation time encoded in a ULID produced by New.
// It returns an error if id is not a well-formed ULID.
func Timestamp(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, fmt.Errorf("idgen: parse %q: %w", id, err)
	}
	return ulid.Time(parsed.Time()), nil
}

// Valid reports whether id is a well-formed ULID.
func Valid(id string) bool {
	_, err := ulid.ParseStrict(strings.ToUpper(id))
	return err == nil
}

// NewOpaque mints a non-ordered, non-guessable identifier for values that
// must not leak creation order: idempotency keys, webhook delivery ids,
// and other externally-facing tokens where sortability would be a
// correlation side channel rather than a feature.
func NewOpaque() string {
	return uuid.New().String()
}
