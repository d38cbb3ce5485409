// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package cli

import (
	"slices"
	"strings"
	"testing"

	"github.com/tomtom215/pagesync/internal/adapters"
)

func TestHelpExamplesUseBuiltinResources(t *testing.T) {
	t.Parallel()

	specs := make(map[string]adapters.Spec)
	for _, s := range adapters.Builtin() {
		specs[s.Resource] = s
	}

	examples := 0
	for _, line := range strings.Split(NewRootCommand().Long, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[0] != "syncctl" {
			continue
		}
		examples++
		spec, ok := specs[fields[2]]
		if !ok {
			t.Errorf("example %q names unknown resource %q", line, fields[2])
			continue
		}

		given := make(map[string]bool)
		for i := 3; i < len(fields)-1; i++ {
			if fields[i] != "-p" {
				continue
			}
			k, v, _ := strings.Cut(fields[i+1], "=")
			p, known := spec.Params[k]
			if !known {
				t.Errorf("example %q passes unknown param %q", line, k)
				continue
			}
			if len(p.Values) > 0 && !slices.Contains(p.Values, v) {
				t.Errorf("example %q passes %s=%s, allowed %v", line, k, v, p.Values)
			}
			given[k] = true
		}
		for name, p := range spec.Params {
			if p.Required && !given[name] {
				t.Errorf("example %q omits required param %q", line, name)
			}
		}
	}
	if examples == 0 {
		t.Fatal("no usage examples found in the root help")
	}
}
