package sink

import (
	"context"
	"io"
	"net"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/pkg/errors"
)

// classify wraps err as a *TransientStoreError or a *FatalStoreError. Errors already classified are returned as is.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var transient *TransientStoreError
	var fatal *FatalStoreError
	if errors.As(err, &transient) || errors.As(err, &fatal) {
		return err
	}
	if isTransient(err) {
		return &TransientStoreError{Err: err}
	}
	return &FatalStoreError{Attempts: 1, Err: err}
}

// IsTransient reports whether err is a *TransientStoreError.
func IsTransient(err error) bool {
	var transient *TransientStoreError
	return errors.As(err, &transient)
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return isTransientCode(pgErr.Code)
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Auth failures, syntax errors, missing tables and constraint violations need an operator and are not listed here.
func isTransientCode(code string) bool {
	return pgerrcode.IsConnectionException(code) ||
		pgerrcode.IsTransactionRollback(code) ||
		pgerrcode.IsInsufficientResources(code) ||
		pgerrcode.IsOperatorIntervention(code) ||
		code == pgerrcode.LockNotAvailable
}
