// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package db handles database schema creation and low-level error
classification.

# Schema

CreateSchema creates all tables with IF NOT EXISTS, so it is safe to run
on every startup:

	if err := db.CreateSchema(conn); err != nil { ... }

The submission table carries a UNIQUE (task_id, participant_id)
constraint; the submission handlers rely on it for their atomic upsert.

# Retry

Read paths wrap queries in WithRetry, which retries transient errors
(connection drops, serialization failures, sqlite busy) up to three times
with exponential backoff before surfacing them:

	err := db.WithRetry(func() error {
		return conn.QueryRow(query, args...).Scan(&dst)
	})
*/
package db
