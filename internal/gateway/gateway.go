// Package gateway abstracts the remote FitFlow API. The sync engine only
// sees the Gateway interface and the error taxonomy; the HTTP wiring lives
// in HTTPGateway.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/fitflow/fitflow/internal/types"
)

// Confirmation carries the authoritative fields the server returned for a
// successful mutation. The sync engine uses them to replace optimistic
// values in the client state. All fields are optional.
type Confirmation struct {
	Meal     *types.Meal     `json:"meal,omitempty"`
	DailyLog *types.DailyLog `json:"daily_log,omitempty"`
	Profile  *types.Profile  `json:"profile,omitempty"`
}

// Gateway is the remote capability consumed by the offline core.
type Gateway interface {
	// Submit delivers one mutation. The idempotency key is the queue item
	// id; the server must treat duplicate delivery of the same key as a
	// single effect, and a replayed success is still a success.
	Submit(ctx context.Context, m types.Mutation, idempotencyKey string) (Confirmation, error)

	FetchProfile(ctx context.Context) (types.Profile, error)
	FetchDailyLog(ctx context.Context, date string) (types.DailyLog, error)
	FetchMeals(ctx context.Context, limit, offset int) ([]types.Meal, error)
	FetchTasks(ctx context.Context) ([]types.Task, error)
}

// TransientError covers failures worth retrying: network errors, timeouts,
// 5xx responses, and request throttling.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transient failure: http %d", e.Status)
	}
	return fmt.Sprintf("transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// AuthError means the session is no longer valid. The engine pauses the
// whole flush until the auth collaborator restores a session.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication required: http %d", e.Status)
}

// ValidationError means the server rejected the payload as malformed.
// Retrying an intrinsically invalid payload cannot succeed.
type ValidationError struct {
	Status  int
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rejected by server: http %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("rejected by server: http %d", e.Status)
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsAuth reports whether err indicates an expired or invalid session.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsValidation reports whether err indicates a permanently rejected payload.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
