package repository

import (
	"errors"

	"github.com/lib/pq"

	"phonereset/internal/interfaces"
)

// SQLSTATE 42P01: the relation was never provisioned.
const undefinedTable pq.ErrorCode = "42P01"

func storeError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == undefinedTable {
		return &interfaces.StoreError{Op: op, Unavailable: true, Err: err}
	}
	return &interfaces.StoreError{Op: op, Err: err}
}
