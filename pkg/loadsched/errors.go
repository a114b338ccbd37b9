package loadsched

import "errors"

var (
	ErrEmptyID         = errors.New("resource id is empty")
	ErrInvalidID       = errors.New("resource id has leading or trailing whitespace")
	ErrDuplicateID     = errors.New("resource id is already registered")
	ErrInvalidPriority = errors.New("invalid priority class")
	ErrInvalidRetries  = errors.New("retry budget must not be negative")

	ErrUnknownDependency = errors.New("prerequisite is not registered")
	ErrDependencyCycle   = errors.New("dependency cycle")

	ErrUnsupportedKind = errors.New("unsupported resource kind")
	ErrAttemptTimeout  = errors.New("fetch attempt timed out")
	ErrClosed          = errors.New("scheduler is closed")
)

// IsPermanent reports whether err rules out any further attempt.
// Unsupported kinds are always permanent; other errors are permanent only
// when they carry an IsTransient method that returns false.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnsupportedKind) {
		return true
	}
	var t interface{ IsTransient() bool }
	if errors.As(err, &t) {
		return !t.IsTransient()
	}
	return false
}
