package sink

import "fmt"

// TransientStoreError is a failure expected to clear up by itself, e.g. a dropped connection or a lock timeout.
// Commits failing this way are retried.
type TransientStoreError struct {
	Err error
}

func (err *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error: %v", err.Err)
}

func (err *TransientStoreError) Unwrap() error {
	return err.Err
}

func (err *TransientStoreError) Cause() error {
	return err.Err
}

// FatalStoreError is a failure that retrying will not fix, or a transient failure that outlasted every attempt.
type FatalStoreError struct {
	// Number of attempts made before giving up
	Attempts uint
	Err      error
}

func (err *FatalStoreError) Error() string {
	if err.Attempts > 1 {
		return fmt.Sprintf("store failed after %d attempts: %v", err.Attempts, err.Err)
	}
	return fmt.Sprintf("fatal store error: %v", err.Err)
}

func (err *FatalStoreError) Unwrap() error {
	return err.Err
}

func (err *FatalStoreError) Cause() error {
	return err.Err
}
