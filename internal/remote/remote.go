// Package remote provides the client for the remote authority, the external
// system of record reachable only when online.
package remote

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when the remote authority has no record with the
// requested id. Callers treat it as a normal control-flow branch (the common
// offline-create case), never as a failure.
var ErrNotFound = errors.New("remote record not found")

// UpdatedAtField is the server-recognized last-modified timestamp field
// carried by every remote record, expressed in UTC milliseconds.
const UpdatedAtField = "updated_at"

// Authority is the single logical collaborator the sync engine depends on.
type Authority interface {
	// FetchByID returns the current remote snapshot or ErrNotFound.
	FetchByID(ctx context.Context, table, id string) (map[string]any, error)

	// Upsert creates or replaces the record identified by payload["id"].
	Upsert(ctx context.Context, table string, payload map[string]any) error

	// DeleteByID removes the record. Deleting an absent record is a success.
	DeleteByID(ctx context.Context, table, id string) error
}

// ErrorType classifies a remote failure for sync logging. The retry policy
// does not branch on it; it exists so failures are reported meaningfully.
type ErrorType string

const (
	// ErrorTypeNetwork represents a transport-level failure
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeAuth represents an authentication error
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeServer represents a 5xx server error
	ErrorTypeServer ErrorType = "server"
	// ErrorTypeClient represents a 4xx rejection
	ErrorTypeClient ErrorType = "client"
	// ErrorTypeUnknown represents an unclassified error
	ErrorTypeUnknown ErrorType = "unknown"
)

// APIError represents an error response from the remote authority
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	ErrorCode  string `json:"error"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("API error %d: %s - %s", e.StatusCode, e.ErrorCode, e.Message)
}

// Classify maps an error from an Authority call to an ErrorType.
func Classify(err error) ErrorType {
	if err == nil {
		return ""
	}

	var apiErr APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return ErrorTypeAuth
		case apiErr.StatusCode >= 500:
			return ErrorTypeServer
		case apiErr.StatusCode >= 400:
			return ErrorTypeClient
		default:
			return ErrorTypeUnknown
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorTypeNetwork
	}

	return ErrorTypeNetwork
}
