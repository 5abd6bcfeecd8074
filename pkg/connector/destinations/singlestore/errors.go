package singlestore

import (
	"context"
	"database/sql/driver"

	"github.com/go-sql-driver/mysql"

	"github.com/ajitpratap0/memsink/pkg/errors"
)

// storeError classifies a driver error. Errors that are already typed keep
// their type.
func storeError(err error, msg string) error {
	if err == nil {
		return nil
	}

	var typed *errors.Error
	if errors.As(err, &typed) {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(err, errors.ErrorTypeTimeout, msg)
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, mysql.ErrInvalidConn):
		return errors.Wrap(err, errors.ErrorTypeConnection, msg)
	default:
		return errors.Wrap(err, errors.ErrorTypeQuery, msg)
	}
}

// annotate attaches the table and batch identity to err, wrapping untyped
// errors as store errors. An empty batchID is left out.
func annotate(err error, table, batchID string) error {
	var typed *errors.Error
	if !errors.As(err, &typed) {
		typed = errors.Wrap(err, errors.ErrorTypeQuery, "batch write failed")
		err = typed
	}
	typed.WithDetail(errors.DetailTable, table)
	if batchID != "" {
		typed.WithDetail(errors.DetailBatchID, batchID)
	}
	return err
}
