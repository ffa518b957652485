package credvault

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation is an exported constant or variable used by the credential engine.
	ErrValidation = errors.New("invalid input")
	// ErrInvalidCredentials is an exported constant or variable used by the credential engine.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is an exported constant or variable used by the credential engine.
	ErrAccountLocked = errors.New("account locked")
	// ErrTokenInvalid is an exported constant or variable used by the credential engine.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrNotFound is an exported constant or variable used by the credential engine.
	ErrNotFound = errors.New("not found")
	// ErrConflict is an exported constant or variable used by the credential engine.
	ErrConflict = errors.New("resource conflict")
	// ErrUsernameTaken is an exported constant or variable used by the credential engine.
	ErrUsernameTaken = fmt.Errorf("%w: username already registered", ErrConflict)
	// ErrEmailTaken is an exported constant or variable used by the credential engine.
	ErrEmailTaken = fmt.Errorf("%w: email already registered", ErrConflict)
	// ErrPasswordPolicy is an exported constant or variable used by the credential engine.
	ErrPasswordPolicy = fmt.Errorf("%w: password policy violation", ErrValidation)
	// ErrPermissionDenied is an exported constant or variable used by the credential engine.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrLoginRateLimited is an exported constant or variable used by the credential engine.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrStoreUnavailable is an exported constant or variable used by the credential engine.
	ErrStoreUnavailable = errors.New("storage backend unavailable")
	// ErrEngineNotReady is an exported constant or variable used by the credential engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// AccountLockedError reports an authentication attempt against a locked
// account. It is the one failure mode deliberately distinguishable from
// ErrInvalidCredentials: callers may surface the unlock time, everything else
// stays generic to resist account enumeration.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrAccountLocked) match.
func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}
