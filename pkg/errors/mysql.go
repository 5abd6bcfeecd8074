package errors

import (
	"errors"

	gomysql "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-sql-driver/mysql"
)

// StoreErrorNumber returns the server error number carried by err, if any.
func StoreErrorNumber(err error) (uint16, bool) {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return 0, false
	}
	return myErr.Number, true
}

// IsDuplicateKey reports whether err is a unique/primary key violation.
func IsDuplicateKey(err error) bool {
	n, ok := StoreErrorNumber(err)
	return ok && n == gomysql.ER_DUP_ENTRY
}

// IsTransientStoreError reports server errors that succeed when the same
// transaction is replayed: lock wait timeouts and deadlocks.
func IsTransientStoreError(err error) bool {
	n, ok := StoreErrorNumber(err)
	if !ok {
		return errors.Is(err, mysql.ErrInvalidConn)
	}
	switch n {
	case gomysql.ER_LOCK_WAIT_TIMEOUT, gomysql.ER_LOCK_DEADLOCK:
		return true
	default:
		return false
	}
}
