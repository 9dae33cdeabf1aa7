// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package prolific is a minimal client for the Prolific crowdsourcing
platform API plus the translation of its study statuses into the local
experiment vocabulary.

# Client

	client := prolific.NewClient(token, "")
	study, err := client.GetStudy(studyID)

All platform calls are best-effort side effects: handlers perform them
only after the local state transition is durable, and a failure is logged
or reported as a warning, never rolled back into the local operation.

# Status Reconciliation

Reconcile implements the monotonic upgrade rule. The platform status is
mapped through an explicit table (unknown statuses rank lowest) and
replaces the local status only when it ranks strictly higher:

	next, changed := prolific.Reconcile(models.ExperimentReady, "COMPLETED")
	// next == "completed", changed == true

A local "active" experiment therefore never regresses to "draft" because
of a stale platform read.
*/
package prolific
