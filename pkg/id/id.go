// Package id generates time-sortable identifiers for audit rows and cycle
// lease owners.
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	// Monotonic keeps ids minted in the same millisecond ordered.
	entropy = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a ULID stamped with the current time.
func New() string {
	return At(time.Now())
}

// At returns a ULID stamped with t. Audit rows use the decision time so the
// id order matches the created_at order.
func At(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()

	v, err := ulid.New(ulid.Timestamp(t.UTC()), entropy)
	if err != nil {
		panic(err)
	}
	return v.String()
}

// Time extracts the timestamp from an id produced by New or At.
func Time(s string) (time.Time, error) {
	v, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(v.Time()).UTC(), nil
}
