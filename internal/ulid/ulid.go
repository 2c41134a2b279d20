// Package ulid provides prefixed, lexicographically sortable identifiers
// wrapping github.com/oklog/ulid/v2.
//
// Queue entries, conflicts, and sync logs use ULIDs because their string
// ordering is also their creation-time ordering, which is exactly what FIFO
// drain sorts by. Record IDs created offline use UUIDs instead (see the store
// package) so the same ID survives the round trip to the remote authority.
package ulid

import (
	"crypto/rand"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Common prefixes for different parts of the application
const (
	// PrefixMutation is used for sync queue entries
	PrefixMutation = "mut"

	// PrefixConflict is used for conflict records
	PrefixConflict = "cfl"

	// PrefixSyncLog is used for sync log entries
	PrefixSyncLog = "sync"

	// PrefixDevice is used for device identifiers
	PrefixDevice = "dev"

	// PrefixSeparator separates the prefix from the ULID
	PrefixSeparator = "-"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex

	// Nil is the zero value of ULID, useful for nil checks
	Nil = ULID{ulid.ULID{}, ""}
)

// ULID wraps ulid.ULID with an optional prefix and database/JSON integration.
type ULID struct {
	ulid.ULID
	prefix string
}

// Generate creates a new ULID with the current timestamp.
func Generate() ULID {
	return NewWithTime(time.Now())
}

// GenerateWithPrefix creates a new ULID with the current timestamp and a prefix.
func GenerateWithPrefix(prefix string) ULID {
	id := NewWithTime(time.Now())
	id.prefix = prefix
	return id
}

// NewWithTime creates a new ULID with a specific timestamp.
func NewWithTime(t time.Time) ULID {
	entropyLock.Lock()
	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	entropyLock.Unlock()
	return ULID{id, ""}
}

// Parse parses a ULID string, handling both plain and prefixed forms
// (e.g. "mut-01AN4Z07BY79KA1307SR9X4MV3").
func Parse(id string) (ULID, error) {
	parts := strings.SplitN(id, PrefixSeparator, 2)

	var rawID string
	var prefix string

	if len(parts) == 2 {
		prefix = parts[0]
		rawID = parts[1]
	} else {
		rawID = id
	}

	parsed, err := ulid.Parse(rawID)
	if err != nil {
		return ULID{}, err
	}

	return ULID{parsed, prefix}, nil
}

// Validate checks whether a string is a valid (optionally prefixed) ULID.
func Validate(id string) bool {
	_, err := Parse(id)
	return err == nil
}

// MustParse is like Parse but panics if the string cannot be parsed.
func MustParse(s string) ULID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IsZero returns true if the ULID is the zero value (Nil).
func (u ULID) IsZero() bool {
	return u.ULID == ulid.ULID{}
}

// Prefix returns the prefix of the ULID.
func (u ULID) Prefix() string {
	return u.prefix
}

// String returns the string representation, including the prefix when set.
func (u ULID) String() string {
	if u.prefix != "" {
		return u.prefix + PrefixSeparator + u.ULID.String()
	}
	return u.ULID.String()
}

// Time returns the timestamp component of the ULID.
func (u ULID) Time() time.Time {
	return ulid.Time(u.ULID.Time())
}

// MarshalJSON implements json.Marshaler; ULIDs marshal as strings.
func (u ULID) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *ULID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Value implements driver.Valuer; ULIDs are stored as strings.
func (u ULID) Value() (driver.Value, error) {
	return u.String(), nil
}

// Scan implements sql.Scanner.
func (u *ULID) Scan(src interface{}) error {
	switch src := src.(type) {
	case nil:
		return nil
	case string:
		parsed, err := Parse(src)
		if err != nil {
			return err
		}
		*u = parsed
		return nil
	case []byte:
		parsed, err := Parse(string(src))
		if err != nil {
			return err
		}
		*u = parsed
		return nil
	}
	return fmt.Errorf("cannot scan %T into ULID", src)
}

// Domain-specific ID generation helpers

// MutationID generates a new ULID with the queue mutation prefix
func MutationID() string {
	return GenerateWithPrefix(PrefixMutation).String()
}

// ConflictID generates a new ULID with the conflict prefix
func ConflictID() string {
	return GenerateWithPrefix(PrefixConflict).String()
}

// SyncLogID generates a new ULID with the sync log prefix
func SyncLogID() string {
	return GenerateWithPrefix(PrefixSyncLog).String()
}

// DeviceID generates a new ULID with the device prefix
func DeviceID() string {
	return GenerateWithPrefix(PrefixDevice).String()
}
