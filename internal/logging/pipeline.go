// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package logging

import "github.com/rs/zerolog"

// Field names shared by every component that logs about a page step.
const (
	FieldScope  = "scope"
	FieldRunID  = "run_id"
	FieldPage   = "page"
	FieldLastID = "last_id"
)

// PipelineFields attaches the scope, run identity and cursor page to an event.
// Failures at the runner boundary must always carry these three.
func PipelineFields(e *zerolog.Event, scopeKey, runID string, page int) *zerolog.Event {
	return e.Str(FieldScope, scopeKey).Str(FieldRunID, runID).Int(FieldPage, page)
}
