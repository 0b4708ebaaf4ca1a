package contest

import (
	"errors"
	"fmt"

	"github.com/akotadi/Lockout-Bot/internal/collect"
)

// Base kinds for negotiation errors. Specific conditions wrap one of these
// so callers can classify with errors.Is.
var (
	// ErrValidation marks a bad argument, rejected before any state change.
	ErrValidation = errors.New("invalid request")
	// ErrConflict marks an exclusivity violation: a participant is already
	// challenging, challenged, or in an active contest.
	ErrConflict = errors.New("participant already engaged")
	// ErrNotFound marks an operation on a nonexistent challenge, match or round.
	ErrNotFound = errors.New("no such contest")
	// ErrTimeout marks a negotiation step that got no qualifying response
	// before its deadline. Aliased to the collector's sentinel so timeouts
	// surface uniformly no matter where they happen.
	ErrTimeout = collect.ErrTimeout
	// ErrPermission marks a privileged operation attempted without elevation.
	ErrPermission = errors.New("missing privilege")
)

// Specific negotiation failures.
var (
	ErrSelfChallenge       = fmt.Errorf("%w: you cannot challenge yourself", ErrValidation)
	ErrHandleMissing       = fmt.Errorf("%w: handle not set", ErrValidation)
	ErrInvalidRange        = fmt.Errorf("%w: rating outside the configured ladder", ErrValidation)
	ErrTooManyParticipants = fmt.Errorf("%w: too many participants", ErrValidation)
	ErrNotChallenging      = fmt.Errorf("%w: you are not challenging anyone", ErrNotFound)
	ErrNotChallenged       = fmt.Errorf("%w: no one is challenging you", ErrNotFound)
)

// ExternalError reports a failure of a collaborator service. The in-progress
// negotiation aborts and its reason is surfaced once, never retried.
type ExternalError struct {
	Service string
	Reason  string
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Service, e.Reason)
}
