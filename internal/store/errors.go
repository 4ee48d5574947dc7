package store

import (
	"database/sql/driver"
	"errors"

	"github.com/lib/pq"

	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/models"
)

// Postgres SQLSTATE codes treated as transient.
const (
	codeSerializationFailure pq.ErrorCode = "40001"
	codeDeadlockDetected     pq.ErrorCode = "40P01"
	// class 08: connection exception
	classConnection pq.ErrorClass = "08"
)

// classify wraps a driver error in a TxError. This is the only place that
// decides whether a persistence failure is worth another attempt.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return &models.TxError{Op: op, Retryable: true, Err: err}
		}
	}
	return &models.TxError{Op: op, Err: err}
}

// classifyCommit additionally treats a lost connection during COMMIT as
// transient: the commit result is unknown and the attempt restarts.
func classifyCommit(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == classConnection {
		return &models.TxError{Op: "commit", Retryable: true, Err: err}
	}
	if errors.Is(err, driver.ErrBadConn) {
		return &models.TxError{Op: "commit", Retryable: true, Err: err}
	}
	return classify("commit", err)
}
