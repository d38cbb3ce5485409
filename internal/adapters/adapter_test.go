// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package adapters

import (
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/pagesync/internal/cursor"
	"github.com/tomtom215/pagesync/internal/pipeline"
	"github.com/tomtom215/pagesync/internal/scope"
	"github.com/tomtom215/pagesync/internal/store"
	"github.com/tomtom215/pagesync/internal/upstream"
)

type fakeLister struct {
	listFunc func(ctx context.Context, req upstream.ListRequest) ([]json.RawMessage, error)
}

func (f *fakeLister) List(ctx context.Context, req upstream.ListRequest) ([]json.RawMessage, error) {
	return f.listFunc(ctx, req)
}

type fakeWriter struct {
	applyFunc func(ctx context.Context, resource string, records []store.Record) (int, error)
}

func (f *fakeWriter) Apply(ctx context.Context, resource string, records []store.Record) (int, error) {
	return f.applyFunc(ctx, resource, records)
}

func specFor(t *testing.T, resource string) Spec {
	t.Helper()
	for _, s := range Builtin() {
		if s.Resource == resource {
			return s
		}
	}
	t.Fatalf("no builtin spec for %q", resource)
	return Spec{}
}

func mustScope(t *testing.T, resource string, params map[string]string) scope.Scope {
	t.Helper()
	s, err := scope.New(resource, params)
	if err != nil {
		t.Fatalf("scope.New() error = %v", err)
	}
	return s
}

func TestBuiltinSpecsAreValid(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for _, s := range Builtin() {
		if err := s.Validate(); err != nil {
			t.Errorf("Validate(%s) error = %v", s.Resource, err)
		}
		if seen[s.Resource] {
			t.Errorf("duplicate resource %q", s.Resource)
		}
		seen[s.Resource] = true
	}
	if len(seen) != 6 {
		t.Errorf("builtin resources = %d, want 6", len(seen))
	}
}

func TestSpecValidateRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		spec Spec
	}{
		{"no resource", Spec{Path: "/v1/x", IDFields: []string{"id"}}},
		{"relative path", Spec{Resource: "x", Path: "v1/x", IDFields: []string{"id"}}},
		{"no id fields", Spec{Resource: "x", Path: "/v1/x"}},
		{"empty id field", Spec{Resource: "x", Path: "/v1/x", IDFields: []string{""}}},
		{"bad mode", Spec{Resource: "x", Path: "/v1/x", IDFields: []string{"id"}, Mode: "sometimes"}},
		{"param without filter", Spec{Resource: "x", Path: "/v1/x", IDFields: []string{"id"}, Params: map[string]Param{"a": {}}}},
		{"page size too large", Spec{Resource: "x", Path: "/v1/x", IDFields: []string{"id"}, PageSize: 50000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.spec.Validate(); err == nil {
				t.Error("Validate() error = nil")
			}
		})
	}
}

func TestValidateScope(t *testing.T) {
	t.Parallel()

	a, err := New(specFor(t, "friend-list"), &fakeLister{}, &fakeWriter{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		name    string
		params  map[string]string
		wantErr error
	}{
		{"account only", map[string]string{"account": "acct1"}, nil},
		{"account and deleted", map[string]string{"account": "acct1", "deleted": "1"}, nil},
		{"missing account", nil, ErrMissingParam},
		{"unknown param", map[string]string{"account": "acct1", "colour": "red"}, ErrUnknownParam},
		{"bad deleted value", map[string]string{"account": "acct1", "deleted": "maybe"}, ErrBadParamValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := a.ValidateScope(mustScope(t, "friend-list", tt.params))
			if tt.wantErr == nil && err != nil {
				t.Fatalf("ValidateScope() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateScope() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFetchMapsScopeAndExtractsIDs(t *testing.T) {
	t.Parallel()

	var got upstream.ListRequest
	lister := &fakeLister{listFunc: func(_ context.Context, req upstream.ListRequest) ([]json.RawMessage, error) {
		got = req
		return []json.RawMessage{
			json.RawMessage(`{"wechatAccountId":7,"wechatId":"wx-a","nick":"A"}`),
			json.RawMessage(`{"wechatAccountId":7,"wechatId":"wx-b","nick":"B"}`),
		}, nil
	}}
	a, err := New(specFor(t, "friend-list"), lister, &fakeWriter{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s := mustScope(t, "friend-list", map[string]string{"account": "acct1", "deleted": "0"})
	res, err := a.Fetch(context.Background(), pipeline.PageRequest{
		Scope:    s,
		RunID:    "r1",
		Cursor:   cursor.Position{Page: 4},
		PageSize: 2,
	})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if got.Path != "/v1/friends" || got.ListPath != DefaultListPath || got.Page != 4 || got.PageSize != 2 {
		t.Errorf("list request = %+v", got)
	}
	if got.Filters.Get("keyword") != "acct1" || got.Filters.Get("isDeleted") != "0" {
		t.Errorf("filters = %v", got.Filters)
	}
	if len(res.Records) != 2 || res.Records[0].ExternalID != "7:wx-a" || res.Records[1].ExternalID != "7:wx-b" {
		t.Errorf("records = %+v", res.Records)
	}
	if !res.More {
		t.Error("a full page must continue")
	}
	if res.Next != (cursor.Position{Page: 5, LastID: "7:wx-b"}) {
		t.Errorf("Next = %+v", res.Next)
	}
}

func TestFetchMissingID(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{listFunc: func(context.Context, upstream.ListRequest) ([]json.RawMessage, error) {
		return []json.RawMessage{json.RawMessage(`{"chatroomId":null}`)}, nil
	}}
	a, err := New(specFor(t, "chatroom-list"), lister, &fakeWriter{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = a.Fetch(context.Background(), pipeline.PageRequest{
		Scope:    mustScope(t, "chatroom-list", map[string]string{"account": "acct1"}),
		PageSize: 10,
	})
	if !errors.Is(err, ErrMissingID) {
		t.Errorf("Fetch() error = %v, want ErrMissingID", err)
	}
}

func TestFetchPropagatesUpstreamError(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{listFunc: func(context.Context, upstream.ListRequest) ([]json.RawMessage, error) {
		return nil, upstream.ErrCircuitOpen
	}}
	a, err := New(specFor(t, "account-list"), lister, &fakeWriter{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = a.Fetch(context.Background(), pipeline.PageRequest{Scope: mustScope(t, "account-list", nil), PageSize: 10})
	if !errors.Is(err, upstream.ErrCircuitOpen) {
		t.Errorf("Fetch() error = %v", err)
	}
}

func TestApplyWritesUnderResource(t *testing.T) {
	t.Parallel()

	var gotResource string
	var gotRecords []store.Record
	writer := &fakeWriter{applyFunc: func(_ context.Context, resource string, records []store.Record) (int, error) {
		gotResource = resource
		gotRecords = records
		return len(records), nil
	}}
	a, err := New(specFor(t, "department-list"), &fakeLister{}, writer)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	n, err := a.Apply(context.Background(), []pipeline.SyncRecord{
		{ExternalID: "d1", Payload: json.RawMessage(`{"id":"d1"}`)},
	})
	if err != nil || n != 1 {
		t.Fatalf("Apply() = %d, %v", n, err)
	}
	if gotResource != "department-list" || len(gotRecords) != 1 || gotRecords[0].ExternalID != "d1" {
		t.Errorf("writer got %s %+v", gotResource, gotRecords)
	}
}

func TestRunModes(t *testing.T) {
	t.Parallel()

	for _, s := range Builtin() {
		a, err := New(s, &fakeLister{}, &fakeWriter{})
		if err != nil {
			t.Fatalf("New(%s) error = %v", s.Resource, err)
		}
		want := pipeline.RunModeFresh
		if s.Resource == "moment-list" {
			want = pipeline.RunModeResume
		}
		if got := a.RunMode(); got != want {
			t.Errorf("%s RunMode() = %s, want %s", s.Resource, got, want)
		}
	}
}

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry(Builtin(), &fakeLister{}, &fakeWriter{})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if got := len(r.Resources()); got != 6 {
		t.Errorf("Resources() = %d, want 6", got)
	}

	specs := append(Builtin(), specFor(t, "friend-list"))
	if _, err := NewRegistry(specs, &fakeLister{}, &fakeWriter{}); !errors.Is(err, pipeline.ErrAlreadyRegistered) {
		t.Errorf("NewRegistry() with duplicate error = %v", err)
	}

	if _, err := New(specFor(t, "friend-list"), nil, &fakeWriter{}); err == nil {
		t.Error("New() with nil lister error = nil")
	}
}
