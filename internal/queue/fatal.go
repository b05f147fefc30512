package queue

import "errors"

// fatalError marks a handler failure that must not be retried.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string {
	if e == nil || e.err == nil {
		return "queue: fatal error"
	}
	return e.err.Error()
}

func (e *fatalError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Fatal wraps an error so the lane skips remaining attempts.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether an error was marked non-retryable.
func IsFatal(err error) bool {
	var fatal *fatalError
	return errors.As(err, &fatal)
}
