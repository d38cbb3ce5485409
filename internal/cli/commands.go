// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package cli

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tomtom215/pagesync/internal/api"
)

// ScopeOptions holds the flags shared by scoped commands.
type ScopeOptions struct {
	*RootOptions
	Params []string
	RunID  string
}

func (o *ScopeOptions) addFlags(cmd *cobra.Command, runIDUsage string) {
	cmd.Flags().StringArrayVarP(&o.Params, "param", "p", nil, "scope parameter as name=value (repeatable)")
	cmd.Flags().StringVar(&o.RunID, "run-id", "", runIDUsage)
}

// parseParams turns name=value pairs into a map.
func parseParams(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid --param %q: want name=value", p))
		}
		if _, dup := params[name]; dup {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("duplicate --param %q", name))
		}
		params[name] = value
	}
	return params, nil
}

func scopeQuery(params map[string]string, runID string) url.Values {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	if runID != "" {
		q.Set("run_id", runID)
	}
	return q
}

// TriggerOptions holds flags for the trigger command.
type TriggerOptions struct {
	ScopeOptions
	PageSize int
}

// NewTriggerCommand creates the trigger command.
func NewTriggerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TriggerOptions{ScopeOptions: ScopeOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "trigger <resource>",
		Short: "Start a sync run for one scope",
		Long: `Start a sync run for one scope. The first page is fetched and applied
before the command returns; the rest of the chain continues on the queue.

Exit status is 0 when the run started, 3 when another run already holds the
scope, 1 when the run aborted and 2 for usage or connection errors.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrigger(cmd, opts, args[0])
		},
	}
	opts.addFlags(cmd, "run identity (default: generated, or the continuous id for resuming resources)")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 0, "records per page (default: the resource's)")

	return cmd
}

func runTrigger(cmd *cobra.Command, opts *TriggerOptions, resource string) error {
	params, err := parseParams(opts.Params)
	if err != nil {
		return err
	}
	if opts.PageSize < 0 {
		return NewExitError(ExitCommandError, "--page-size must not be negative")
	}
	c, err := newClient(opts.RootOptions)
	if err != nil {
		return err
	}

	body := api.TriggerRequest{Params: params, RunID: opts.RunID, PageSize: opts.PageSize}
	resp, err := c.do(cmd.Context(), http.MethodPost, "/api/v1/sync/"+url.PathEscape(resource), nil, body)
	if err != nil {
		return err
	}

	var result api.TriggerResponse
	if err := resp.decodeData(&result); err != nil {
		return err
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		if err := out.JSON(resp.Body); err != nil {
			return err
		}
	} else if result.Result != "" {
		out.Field("result", result.Result)
		out.Field("scope", result.Scope)
		if result.RunID != "" {
			out.Field("run", result.RunID)
		}
		if result.Result == "started" {
			out.Field("status", result.Status)
			out.Field("applied", fmt.Sprintf("%d of %d", result.Applied, result.Fetched))
			if result.Next != nil {
				out.Field("next", fmt.Sprintf("page %d after %q", result.Next.Page, result.Next.LastID))
			}
		}
		if result.Error != "" {
			out.Field("error", result.Error)
		}
	}

	switch {
	case resp.StatusCode == http.StatusAccepted:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return resp.apiError(ExitAlreadyRunning)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound:
		return resp.apiError(ExitCommandError)
	default:
		return resp.apiError(ExitFailure)
	}
}

// NewLockCommand creates the lock command.
func NewLockCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScopeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "lock <resource>",
		Short: "Show which run holds a scope's lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLock(cmd, opts, args[0])
		},
	}
	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "scope parameter as name=value (repeatable)")

	return cmd
}

func runLock(cmd *cobra.Command, opts *ScopeOptions, resource string) error {
	params, err := parseParams(opts.Params)
	if err != nil {
		return err
	}
	c, err := newClient(opts.RootOptions)
	if err != nil {
		return err
	}

	resp, err := c.do(cmd.Context(), http.MethodGet, "/api/v1/locks/"+url.PathEscape(resource), scopeQuery(params, ""), nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return resp.apiError(exitCodeFor(resp.StatusCode))
	}

	var lock api.LockResponse
	if err := resp.decodeData(&lock); err != nil {
		return err
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return out.JSON(resp.Body)
	}
	out.Field("scope", lock.Scope)
	if !lock.Held {
		out.Field("held", "no")
		return nil
	}
	out.Field("held", "yes")
	out.Field("owner", lock.Owner)
	return nil
}

// NewCursorCommand creates the cursor command.
func NewCursorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScopeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cursor <resource>",
		Short: "Show the persisted cursor of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCursor(cmd, opts, args[0])
		},
	}
	opts.addFlags(cmd, "run identity (default: the continuous id)")

	return cmd
}

func runCursor(cmd *cobra.Command, opts *ScopeOptions, resource string) error {
	params, err := parseParams(opts.Params)
	if err != nil {
		return err
	}
	c, err := newClient(opts.RootOptions)
	if err != nil {
		return err
	}

	resp, err := c.do(cmd.Context(), http.MethodGet, "/api/v1/cursors/"+url.PathEscape(resource), scopeQuery(params, opts.RunID), nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return resp.apiError(exitCodeFor(resp.StatusCode))
	}

	var cur api.CursorResponse
	if err := resp.decodeData(&cur); err != nil {
		return err
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return out.JSON(resp.Body)
	}
	out.Field("scope", cur.Scope)
	out.Field("run", cur.RunID)
	out.Field("page", cur.Position.Page)
	if cur.Position.LastID != "" {
		out.Field("last id", cur.Position.LastID)
	}
	return nil
}

// NewResourcesCommand creates the resources command.
func NewResourcesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "List the resource types the server can sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(rootOpts)
			if err != nil {
				return err
			}
			resp, err := c.do(cmd.Context(), http.MethodGet, "/api/v1/resources", nil, nil)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return resp.apiError(exitCodeFor(resp.StatusCode))
			}

			var data struct {
				Resources []string `json:"resources"`
			}
			if err := resp.decodeData(&data); err != nil {
				return err
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if rootOpts.Format == "json" {
				return out.JSON(resp.Body)
			}
			sort.Strings(data.Resources)
			for _, r := range data.Resources {
				out.Line("%s", r)
			}
			return nil
		},
	}
}

func exitCodeFor(status int) int {
	if status >= 400 && status < 500 {
		return ExitCommandError
	}
	return ExitFailure
}
