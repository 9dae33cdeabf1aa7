// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// MaxReadAttempts bounds how many times a transient read error is retried
// before it is surfaced to the caller.
const MaxReadAttempts = 3

var initialBackoff = 50 * time.Millisecond

// WithRetry runs op, retrying on transient datastore errors with
// exponential backoff. Validation and not-found style errors (anything
// not classified transient) surface immediately. sql.ErrNoRows is never
// retried: an absent row is an answer, not a failure.
func WithRetry(op func() error) error {
	var err error
	backoff := initialBackoff

	for attempt := 1; attempt <= MaxReadAttempts; attempt++ {
		err = op()
		if err == nil || !IsTransient(err) {
			return err
		}
		if attempt < MaxReadAttempts {
			slog.Warn("transient database error, retrying",
				"attempt", attempt,
				"error", err,
			)
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	return err
}

// IsTransient reports whether err looks like a recoverable datastore
// failure (dropped connection, timeout, serialization conflict). Driver
// errors don't share a common type across lib/pq and modernc sqlite, so
// classification falls back to message matching, the same way unique
// violations are detected.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return true
	}

	msg := err.Error()
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"serialization failure",          // pq: 40001
		"could not serialize access",     // pq serialization detail
		"deadlock detected",              // pq: 40P01
		"the database system is starting", // pq: 57P03
		"database is locked",             // sqlite busy
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsUniqueViolation reports whether err is a unique-constraint failure.
// Matched by message because lib/pq and modernc sqlite report these with
// different error types.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
