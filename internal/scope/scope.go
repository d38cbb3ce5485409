// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

// Package scope defines the identity types shared by the lock, cursor and
// pipeline packages: the resource scope a run is bound to and the run identity
// that namespaces a chain's cursor.
package scope

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEmptyResource is returned when a scope has no resource type.
	ErrEmptyResource = errors.New("scope: resource type is required")

	// ErrInvalidParam is returned for parameter names or values that cannot be
	// encoded unambiguously into a scope key.
	ErrInvalidParam = errors.New("scope: invalid parameter")

	// ErrInvalidRunID is returned for run identities that contain separators.
	ErrInvalidRunID = errors.New("scope: invalid run id")
)

var (
	resourcePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	paramKeyPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	runIDPattern    = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

// Scope identifies one logical sync target: a resource type plus the
// parameters that narrow it, such as ("friend-list", account=acct1).
//
// A Scope is immutable for the lifetime of a run. Its canonical Key is the
// primary key of both the lock and the cursor.
type Scope struct {
	Resource string            `json:"resource" validate:"required"`
	Params   map[string]string `json:"params,omitempty"`
}

// New builds a validated Scope. The params map is copied.
func New(resource string, params map[string]string) (Scope, error) {
	s := Scope{Resource: resource}
	if len(params) > 0 {
		s.Params = make(map[string]string, len(params))
		for k, v := range params {
			s.Params[k] = v
		}
	}
	if err := s.Validate(); err != nil {
		return Scope{}, err
	}
	return s, nil
}

// Validate checks that the scope can be encoded into a stable key.
func (s Scope) Validate() error {
	if s.Resource == "" {
		return ErrEmptyResource
	}
	if !resourcePattern.MatchString(s.Resource) {
		return fmt.Errorf("%w: resource %q", ErrInvalidParam, s.Resource)
	}
	for k, v := range s.Params {
		if !paramKeyPattern.MatchString(k) {
			return fmt.Errorf("%w: name %q", ErrInvalidParam, k)
		}
		if strings.ContainsAny(v, ",=\n") {
			return fmt.Errorf("%w: value of %q contains a reserved character", ErrInvalidParam, k)
		}
	}
	return nil
}

// Key returns the canonical string form "resource:k1=v1,k2=v2" with params
// sorted by name. Equal scopes always produce equal keys.
func (s Scope) Key() string {
	if len(s.Params) == 0 {
		return s.Resource
	}
	names := make([]string, 0, len(s.Params))
	for k := range s.Params {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(s.Resource)
	b.WriteByte(':')
	for i, k := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(s.Params[k])
	}
	return b.String()
}

// String implements fmt.Stringer.
func (s Scope) String() string {
	return s.Key()
}

// Param returns a parameter value or "".
func (s Scope) Param(name string) string {
	return s.Params[name]
}

// Equal reports whether two scopes have the same canonical key.
func (s Scope) Equal(other Scope) bool {
	return s.Key() == other.Key()
}

// RunID identifies one chain of page jobs. It namespaces the cursor so that a
// fresh run starts from the default position while a resumed run continues.
type RunID string

// ContinuousRunID is the fixed identity used by scopes that resume their cursor
// across triggers.
const ContinuousRunID RunID = "continuous"

// NewRunID returns a run identity made of the UTC timestamp and a random
// suffix, e.g. "20261019T101500Z-3f9a2c1d".
func NewRunID(now time.Time) RunID {
	return RunID(now.UTC().Format("20060102T150405Z") + "-" + uuid.New().String()[:8])
}

// ValidateRunID checks that id is non-empty and safe to embed in store keys.
func ValidateRunID(id RunID) error {
	if !runIDPattern.MatchString(string(id)) {
		return fmt.Errorf("%w: %q", ErrInvalidRunID, id)
	}
	return nil
}

// String implements fmt.Stringer.
func (r RunID) String() string {
	return string(r)
}
