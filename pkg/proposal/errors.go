package proposal

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every governance operation. Callers classify
// failures with errors.Is; each return site wraps one of these with context.
var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrValidation    = errors.New("validation failed")
	ErrDuplicateVote = errors.New("duplicate vote")
	ErrInvalidState  = errors.New("invalid state")
	ErrNotFound      = errors.New("not found")
)

// ErrDisputeBlocked marks votes rejected because an active dispute has
// paused the proposal. It matches ErrInvalidState under errors.Is.
var ErrDisputeBlocked = fmt.Errorf("%w: proposal is under active dispute", ErrInvalidState)
