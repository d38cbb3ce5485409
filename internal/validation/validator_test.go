// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package validation

import (
	"strings"
	"testing"
)

func TestGetValidator_Singleton(t *testing.T) {
	t.Parallel()

	v1 := GetValidator()
	v2 := GetValidator()
	if v1 == nil {
		t.Fatal("GetValidator() should not return nil")
	}
	if v1 != v2 {
		t.Error("GetValidator() should return the same singleton instance")
	}
}

type triggerRequest struct {
	Resource string `validate:"required,resource"`
	RunID    string `validate:"omitempty,runid"`
	PageSize int    `validate:"gte=0,lte=10000"`
	Format   string `validate:"omitempty,oneof=text json"`
}

func TestValidateStruct(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     triggerRequest
		wantField string
		wantTag   string
	}{
		{name: "minimal", input: triggerRequest{Resource: "friend-list"}},
		{name: "all fields", input: triggerRequest{Resource: "chat-history", RunID: "backfill-2026.03", PageSize: 10000, Format: "json"}},
		{name: "missing resource", input: triggerRequest{}, wantField: "Resource", wantTag: "required"},
		{name: "uppercase resource", input: triggerRequest{Resource: "Friend"}, wantField: "Resource", wantTag: "resource"},
		{name: "resource with colon", input: triggerRequest{Resource: "friend:list"}, wantField: "Resource", wantTag: "resource"},
		{name: "run id with separator", input: triggerRequest{Resource: "friend-list", RunID: "a/b"}, wantField: "RunID", wantTag: "runid"},
		{name: "page size too large", input: triggerRequest{Resource: "friend-list", PageSize: 10001}, wantField: "PageSize", wantTag: "lte"},
		{name: "negative page size", input: triggerRequest{Resource: "friend-list", PageSize: -1}, wantField: "PageSize", wantTag: "gte"},
		{name: "unknown format", input: triggerRequest{Resource: "friend-list", Format: "xml"}, wantField: "Format", wantTag: "oneof"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateStruct(&tt.input)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("ValidateStruct() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("ValidateStruct() = nil, want error")
			}
			errs := err.Errors()
			if len(errs) != 1 {
				t.Fatalf("got %d errors, want 1: %v", len(errs), err)
			}
			if errs[0].Field() != tt.wantField || errs[0].Tag() != tt.wantTag {
				t.Errorf("error = %s/%s, want %s/%s", errs[0].Field(), errs[0].Tag(), tt.wantField, tt.wantTag)
			}
		})
	}
}

func TestToAPIError(t *testing.T) {
	t.Parallel()

	t.Run("single error", func(t *testing.T) {
		t.Parallel()
		err := ValidateStruct(&triggerRequest{Resource: "friend-list", PageSize: 20000})
		if err == nil {
			t.Fatal("expected validation error")
		}
		apiErr := err.ToAPIError()
		if apiErr.Code != "VALIDATION_ERROR" {
			t.Errorf("Code = %q", apiErr.Code)
		}
		if apiErr.Message != "PageSize must be less than or equal to 10000" {
			t.Errorf("Message = %q", apiErr.Message)
		}
		if apiErr.Details["field"] != "PageSize" {
			t.Errorf("Details = %v", apiErr.Details)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		t.Parallel()
		err := ValidateStruct(&triggerRequest{RunID: "x y", PageSize: -5})
		if err == nil {
			t.Fatal("expected validation error")
		}
		apiErr := err.ToAPIError()
		for _, field := range []string{"Resource", "RunID", "PageSize"} {
			if !strings.Contains(apiErr.Message, field+":") {
				t.Errorf("Message %q does not mention %s", apiErr.Message, field)
			}
		}
		fields, ok := apiErr.Details["fields"].([]map[string]interface{})
		if !ok || len(fields) != 3 {
			t.Errorf("Details[fields] = %v", apiErr.Details["fields"])
		}
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		apiErr := (&RequestValidationError{}).ToAPIError()
		if apiErr.Message != "Validation failed" {
			t.Errorf("Message = %q", apiErr.Message)
		}
	})
}

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	type sized struct {
		Name  string `validate:"min=3"`
		Count int    `validate:"max=2"`
	}
	err := ValidateStruct(&sized{Name: "ab", Count: 3})
	if err == nil {
		t.Fatal("expected validation error")
	}
	want := "Name must be at least 3 characters; Count must be at most 2"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
