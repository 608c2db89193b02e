package interfaces

import "errors"

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrOTPNotFound      = errors.New("otp not found")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// StoreError wraps a persistence failure. Unavailable marks failures where
// the backing schema is missing rather than a transient query error.
type StoreError struct {
	Op          string
	Unavailable bool
	Err         error
}

func (e *StoreError) Error() string {
	if e.Unavailable {
		return e.Op + ": store unavailable: " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable && e.Unavailable
}
