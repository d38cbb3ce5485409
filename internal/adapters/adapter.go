// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/tomtom215/pagesync/internal/pipeline"
	"github.com/tomtom215/pagesync/internal/scope"
	"github.com/tomtom215/pagesync/internal/store"
	"github.com/tomtom215/pagesync/internal/upstream"
)

var (
	// ErrMissingID is returned when an upstream record lacks an id field.
	ErrMissingID = errors.New("adapters: record has no external id")

	// ErrUnknownParam is returned for scope parameters a resource does not accept.
	ErrUnknownParam = errors.New("adapters: unknown scope parameter")

	// ErrMissingParam is returned when a required scope parameter is absent.
	ErrMissingParam = errors.New("adapters: missing scope parameter")

	// ErrBadParamValue is returned for values outside a parameter's accepted set.
	ErrBadParamValue = errors.New("adapters: invalid scope parameter value")
)

// Lister reads one page of a list endpoint. *upstream.Client implements it.
type Lister interface {
	List(ctx context.Context, req upstream.ListRequest) ([]json.RawMessage, error)
}

// Writer upserts records. *store.SQLStore implements it.
type Writer interface {
	Apply(ctx context.Context, resource string, records []store.Record) (int, error)
}

// Adapter implements pipeline.Adapter for one Spec.
type Adapter struct {
	spec   Spec
	lister Lister
	writer Writer
}

var (
	_ pipeline.Adapter        = (*Adapter)(nil)
	_ pipeline.ScopeValidator = (*Adapter)(nil)
	_ pipeline.RunModer       = (*Adapter)(nil)
	_ pipeline.PageSizer      = (*Adapter)(nil)
)

// New validates spec and returns its adapter.
func New(spec Spec, lister Lister, writer Writer) (*Adapter, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if lister == nil || writer == nil {
		return nil, fmt.Errorf("resource %q: lister and writer are required", spec.Resource)
	}
	return &Adapter{spec: spec, lister: lister, writer: writer}, nil
}

// NewRegistry builds a pipeline registry with one adapter per spec.
func NewRegistry(specs []Spec, lister Lister, writer Writer) (*pipeline.Registry, error) {
	registry, err := pipeline.NewRegistry()
	if err != nil {
		return nil, err
	}
	for _, spec := range specs {
		a, err := New(spec, lister, writer)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(a); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Resource implements pipeline.Adapter.
func (a *Adapter) Resource() string { return a.spec.Resource }

// RunMode implements pipeline.RunModer.
func (a *Adapter) RunMode() pipeline.RunMode {
	if a.spec.Mode == "" {
		return pipeline.RunModeFresh
	}
	return a.spec.Mode
}

// PageSize implements pipeline.PageSizer. Zero defers to the runner default.
func (a *Adapter) PageSize() int { return a.spec.PageSize }

// ValidateScope rejects parameters the resource does not accept, missing
// required ones and values outside an accepted set.
func (a *Adapter) ValidateScope(s scope.Scope) error {
	for name, value := range s.Params {
		p, ok := a.spec.Params[name]
		if !ok {
			return fmt.Errorf("%w: %s does not accept %q", ErrUnknownParam, a.spec.Resource, name)
		}
		if len(p.Values) > 0 && !slices.Contains(p.Values, value) {
			return fmt.Errorf("%w: %s=%q (accepted: %s)", ErrBadParamValue, name, value, strings.Join(p.Values, ", "))
		}
	}
	for _, name := range a.spec.paramNames() {
		if a.spec.Params[name].Required && s.Param(name) == "" {
			return fmt.Errorf("%w: %s requires %q", ErrMissingParam, a.spec.Resource, name)
		}
	}
	return nil
}

// Fetch implements pipeline.Fetcher.
func (a *Adapter) Fetch(ctx context.Context, req pipeline.PageRequest) (pipeline.PageResult, error) {
	items, err := a.lister.List(ctx, upstream.ListRequest{
		Resource: a.spec.Resource,
		Path:     a.spec.Path,
		ListPath: a.spec.listPath(),
		Filters:  a.filters(req.Scope),
		Page:     req.Cursor.Page,
		PageSize: req.PageSize,
	})
	if err != nil {
		return pipeline.PageResult{}, err
	}

	records := make([]pipeline.SyncRecord, 0, len(items))
	for i, item := range items {
		id, err := a.externalID(item)
		if err != nil {
			return pipeline.PageResult{}, fmt.Errorf("page %d item %d: %w", req.Cursor.Page, i, err)
		}
		records = append(records, pipeline.SyncRecord{ExternalID: id, Payload: item})
	}
	return pipeline.NewPageResult(req, records), nil
}

// Apply implements pipeline.Sink.
func (a *Adapter) Apply(ctx context.Context, records []pipeline.SyncRecord) (int, error) {
	rows := make([]store.Record, 0, len(records))
	for _, r := range records {
		rows = append(rows, store.Record{ExternalID: r.ExternalID, Payload: r.Payload})
	}
	return a.writer.Apply(ctx, a.spec.Resource, rows)
}

func (a *Adapter) filters(s scope.Scope) url.Values {
	q := url.Values{}
	for name, value := range s.Params {
		if p, ok := a.spec.Params[name]; ok {
			q.Set(p.Filter, value)
		}
	}
	return q
}

func (a *Adapter) externalID(item json.RawMessage) (string, error) {
	parts := make([]string, 0, len(a.spec.IDFields))
	for _, field := range a.spec.IDFields {
		v := gjson.GetBytes(item, field)
		if !v.Exists() || v.Type == gjson.Null || v.String() == "" {
			return "", fmt.Errorf("%w: field %q", ErrMissingID, field)
		}
		parts = append(parts, v.String())
	}
	return strings.Join(parts, ":"), nil
}
