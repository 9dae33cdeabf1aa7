// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package models defines request, response, and domain types for the
WorldEval API.

# Domain Types

The core entities mirror the database schema:

  - Experiment: a named study owning tasks and a configuration blob
  - Task: polymorphic view over comparison and single-video tasks
  - Participant: registered (external recruiting platform) or anonymous
    (derived from a session token)
  - Submission: one participant's response to one task, draft or completed

# Status Vocabularies

Experiments move draft → ready → active → completed (paused as a side
state); archival is an independent soft-delete flag. Submissions move
draft → completed, and completed is terminal. Participants are active
until every assigned task has a completed submission.

# Anonymization

Comparison tasks carry two real model names behind the labels "A" and
"B". Task.Anonymize strips the real names before a task is returned to a
non-admin caller, so a verdict can never be traced to a model from the
public API.
*/
package models
