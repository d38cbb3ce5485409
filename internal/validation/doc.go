// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

/*
Package validation provides struct validation using go-playground/validator v10.

A single validator instance is shared by the queue payload decoder, the
resource adapter specs and the ops API request bodies, so struct metadata is
cached once per process.

Custom tags:

  - resource: the value must be a valid scope resource type
  - runid: the value must be a valid run identity

Example:

	type TriggerBody struct {
	    RunID    string `json:"run_id" validate:"omitempty,runid"`
	    PageSize int    `json:"page_size" validate:"gte=0,lte=10000"`
	}

	if verr := validation.ValidateStruct(&body); verr != nil {
	    apiErr := verr.ToAPIError()
	    respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
	    return
	}
*/
package validation
