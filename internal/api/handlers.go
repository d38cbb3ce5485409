// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/pagesync/internal/cursor"
	"github.com/tomtom215/pagesync/internal/logging"
	"github.com/tomtom215/pagesync/internal/pipeline"
	"github.com/tomtom215/pagesync/internal/scope"
	"github.com/tomtom215/pagesync/internal/validation"
)

const maxBodyBytes = 64 << 10

// query parameters that are never scope parameters
const paramRunID = "run_id"

// TriggerRequest is the optional JSON body of POST /api/v1/sync/{resource}.
type TriggerRequest struct {
	Params   map[string]string `json:"params,omitempty"`
	RunID    string            `json:"run_id,omitempty" validate:"omitempty,runid"`
	PageSize int               `json:"page_size,omitempty" validate:"gte=0,lte=10000"`
}

// TriggerResponse reports the result of a manual trigger.
type TriggerResponse struct {
	Result   string           `json:"result"`
	Status   pipeline.Status  `json:"status"`
	State    pipeline.State   `json:"state"`
	Scope    string           `json:"scope"`
	RunID    string           `json:"run_id,omitempty"`
	Cursor   *cursor.Position `json:"cursor,omitempty"`
	Next     *cursor.Position `json:"next,omitempty"`
	Fetched  int              `json:"fetched"`
	Applied  int              `json:"applied"`
	Released bool             `json:"released"`
	Error    string           `json:"error,omitempty"`
}

// LockResponse reports the holder of a scope lock.
type LockResponse struct {
	Scope string `json:"scope"`
	Held  bool   `json:"held"`
	Owner string `json:"owner,omitempty"`
}

// CursorResponse reports the persisted position of a run.
type CursorResponse struct {
	Scope    string          `json:"scope"`
	RunID    string          `json:"run_id"`
	Position cursor.Position `json:"position"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime"`
	Checks map[string]string `json:"checks"`
}

// Health runs every dependency check and answers 503 if any fails.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status: "healthy",
		Uptime: time.Since(h.startTime).Truncate(time.Second).String(),
		Checks: make(map[string]string, len(h.deps.Checks)),
	}
	status := http.StatusOK
	for _, c := range h.deps.Checks {
		if err := c.Check(ctx); err != nil {
			resp.Checks[c.Name] = err.Error()
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[c.Name] = "ok"
	}

	if status != http.StatusOK {
		respondJSON(w, r, status, &APIResponse{
			Status: "error",
			Data:   resp,
			Error:  &APIError{Code: CodeUnhealthy, Message: "One or more dependencies are unhealthy"},
		})
		return
	}
	respondSuccess(w, r, status, resp)
}

// ListResources returns the registered resource types.
func (h *Handler) ListResources(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, r, http.StatusOK, map[string][]string{
		"resources": h.deps.Resources.Resources(),
	})
}

// ready reports whether Deps.Ready has been closed.
func (h *Handler) ready() bool {
	if h.deps.Ready == nil {
		return true
	}
	select {
	case <-h.deps.Ready:
		return true
	default:
		return false
	}
}

// TriggerSync fires a manual run of one scope. The first page is executed
// before the response is written.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")

	// A run started now would enqueue its next page with nobody consuming it.
	if !h.ready() {
		w.Header().Set("Retry-After", "5")
		respondError(w, r, http.StatusServiceUnavailable, CodeNotReady, "Queue consumer is not running yet", nil)
		return
	}

	var body TriggerRequest
	if err := decodeOptionalJSON(r, &body); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeValidation, "Request body must be a JSON object", nil)
		return
	}
	if verr := validation.ValidateStruct(&body); verr != nil {
		apiErr := verr.ToAPIError()
		respondAPIError(w, r, http.StatusBadRequest, &APIError{Code: apiErr.Code, Message: apiErr.Message, Details: apiErr.Details})
		return
	}

	params := scopeParams(r.URL.Query())
	for k, v := range body.Params {
		if params == nil {
			params = make(map[string]string, len(body.Params))
		}
		params[k] = v
	}
	runID := body.RunID
	if runID == "" {
		runID = r.URL.Query().Get(paramRunID)
	}

	// The run owns its lock past the life of this request, so a client that
	// disconnects must not abort the first page.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.triggerTimeout)
	defer cancel()

	out := h.deps.Firer.Fire(ctx, pipeline.FireRequest{
		Resource: resource,
		Params:   params,
		RunID:    scope.RunID(runID),
		PageSize: body.PageSize,
		Source:   pipeline.SourceManual,
	})

	resp := triggerResponse(out)
	switch out.TriggerResult() {
	case "started":
		respondSuccess(w, r, http.StatusAccepted, resp)
	case "already_running":
		respondJSON(w, r, http.StatusConflict, &APIResponse{
			Status: "error",
			Data:   resp,
			Error:  &APIError{Code: CodeAlreadyRunning, Message: "A run already holds the lock for " + resp.Scope},
		})
	default:
		status, code := http.StatusInternalServerError, CodeRunAborted
		if pipeline.KindOf(out.Err) == pipeline.KindInvalid {
			status, code = http.StatusBadRequest, CodeValidation
			if errors.Is(out.Err, pipeline.ErrUnknownResource) {
				status, code = http.StatusNotFound, CodeUnknownResource
			}
		}
		if status == http.StatusInternalServerError {
			logging.Ctx(r.Context()).Error().Err(out.Err).Str("scope", resp.Scope).Msg("Manual trigger aborted")
		}
		respondJSON(w, r, status, &APIResponse{
			Status: "error",
			Data:   resp,
			Error:  &APIError{Code: code, Message: resp.Error},
		})
	}
}

// GetLock reports who holds the lock of the scope in the path and query.
func (h *Handler) GetLock(w http.ResponseWriter, r *http.Request) {
	s, ok := h.scopeFromRequest(w, r)
	if !ok {
		return
	}

	owner, held, err := h.deps.Locks.Owner(r.Context(), s)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, CodeStoreError, "Failed to read lock", err)
		return
	}
	respondSuccess(w, r, http.StatusOK, LockResponse{Scope: s.Key(), Held: held, Owner: string(owner)})
}

// notFound is a position no run can persist, used to tell "missing" from "page 0".
var notFound = cursor.Position{Page: -1}

// GetCursor reports the persisted cursor of a run. run_id defaults to the
// continuous identity used by resuming resources.
func (h *Handler) GetCursor(w http.ResponseWriter, r *http.Request) {
	s, ok := h.scopeFromRequest(w, r)
	if !ok {
		return
	}
	runID := scope.RunID(r.URL.Query().Get(paramRunID))
	if runID == "" {
		runID = scope.ContinuousRunID
	}
	if err := scope.ValidateRunID(runID); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeValidation, err.Error(), nil)
		return
	}

	pos, err := h.deps.Cursors.Get(r.Context(), s, runID, notFound)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, CodeStoreError, "Failed to read cursor", err)
		return
	}
	if pos == notFound {
		respondError(w, r, http.StatusNotFound, CodeNotFound, "No cursor for "+s.Key()+" run "+string(runID), nil)
		return
	}
	respondSuccess(w, r, http.StatusOK, CursorResponse{Scope: s.Key(), RunID: string(runID), Position: pos})
}

func (h *Handler) scopeFromRequest(w http.ResponseWriter, r *http.Request) (scope.Scope, bool) {
	s, err := scope.New(chi.URLParam(r, "resource"), scopeParams(r.URL.Query()))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, CodeValidation, err.Error(), nil)
		return scope.Scope{}, false
	}
	return s, true
}

// scopeParams turns query parameters into scope parameters. Only the first
// value of a repeated parameter is used.
func scopeParams(q url.Values) map[string]string {
	var params map[string]string
	for k, vs := range q {
		if k == paramRunID || len(vs) == 0 {
			continue
		}
		if params == nil {
			params = make(map[string]string, len(q))
		}
		params[k] = vs[0]
	}
	return params
}

// decodeOptionalJSON decodes the body into v. An empty body leaves v untouched.
func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return err
	}
	if len(data) > maxBodyBytes {
		return errors.New("request body too large")
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func triggerResponse(out pipeline.Outcome) TriggerResponse {
	resp := TriggerResponse{
		Result:   out.TriggerResult(),
		Status:   out.Status,
		State:    out.State,
		Scope:    out.Scope.Key(),
		RunID:    string(out.RunID),
		Fetched:  out.Fetched,
		Applied:  out.Applied,
		Released: out.Released,
	}
	if out.Started() {
		c, n := out.Cursor, out.Next
		resp.Cursor, resp.Next = &c, &n
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	return resp
}
