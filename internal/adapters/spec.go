// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

/*
Package adapters binds the upstream resource types to the generic pipeline.

Every resource is described by a Spec: where its list endpoint lives, which
scope parameters it accepts and how they map to upstream filters, and which
payload fields form the stable external id. One Adapter type turns any Spec
into a pipeline.Adapter, so adding a resource is a table entry.
*/
package adapters

import (
	"fmt"
	"sort"

	"github.com/tomtom215/pagesync/internal/pipeline"
	"github.com/tomtom215/pagesync/internal/validation"
)

// DefaultListPath is where the platform puts records in its list envelope.
const DefaultListPath = "data.list"

// Param describes one scope parameter a resource accepts.
type Param struct {
	// Filter is the upstream query parameter the value is sent as.
	Filter   string   `validate:"required"`
	Required bool
	// Values, when non-empty, lists the accepted values.
	Values []string
}

// Spec describes one upstream resource type.
type Spec struct {
	Resource string `validate:"required,resource"`
	Path     string `validate:"required,startswith=/"`

	// ListPath is a gjson path to the record array. Empty means DefaultListPath.
	ListPath string

	// IDFields are gjson paths whose values, joined with ":", form the
	// external id.
	IDFields []string `validate:"required,min=1,dive,required"`

	Params map[string]Param `validate:"dive"`

	Mode     pipeline.RunMode `validate:"omitempty,oneof=fresh resume"`
	PageSize int              `validate:"gte=0,lte=10000"`
}

// Validate checks the spec is usable.
func (s Spec) Validate() error {
	if err := validation.GetValidator().Struct(s); err != nil {
		return fmt.Errorf("resource %q: %w", s.Resource, err)
	}
	return nil
}

func (s Spec) listPath() string {
	if s.ListPath == "" {
		return DefaultListPath
	}
	return s.ListPath
}

func (s Spec) paramNames() []string {
	names := make([]string, 0, len(s.Params))
	for name := range s.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var deletedFlag = Param{Filter: "isDeleted", Values: []string{"0", "1"}}

// Builtin returns the resource types the platform exposes.
func Builtin() []Spec {
	return []Spec{
		{
			Resource: "account-list",
			Path:     "/v1/accounts",
			IDFields: []string{"id"},
		},
		{
			Resource: "department-list",
			Path:     "/v1/departments",
			IDFields: []string{"id"},
		},
		{
			Resource: "friend-list",
			Path:     "/v1/friends",
			IDFields: []string{"wechatAccountId", "wechatId"},
			Params: map[string]Param{
				"account": {Filter: "keyword", Required: true},
				"deleted": deletedFlag,
			},
		},
		{
			Resource: "chatroom-list",
			Path:     "/v1/chatrooms",
			IDFields: []string{"chatroomId"},
			Params: map[string]Param{
				"account": {Filter: "keyword", Required: true},
				"deleted": deletedFlag,
			},
		},
		{
			// Moments are append-mostly; the cursor carries over between runs.
			Resource: "moment-list",
			Path:     "/v1/moments",
			IDFields: []string{"snsId"},
			Params: map[string]Param{
				"account": {Filter: "keyword", Required: true},
			},
			Mode: pipeline.RunModeResume,
		},
		{
			Resource: "allot-rule-list",
			Path:     "/v1/allot-rules",
			IDFields: []string{"id"},
		},
	}
}
