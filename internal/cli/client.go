// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/pagesync/internal/api"
)

// envelope is api.APIResponse with Data left undecoded.
type envelope struct {
	Status   string          `json:"status"`
	Data     json.RawMessage `json:"data,omitempty"`
	Metadata api.Metadata    `json:"metadata"`
	Error    *api.APIError   `json:"error,omitempty"`
}

// response is one decoded API answer.
type response struct {
	StatusCode int
	Body       envelope
	Raw        []byte
}

// client talks to the ops API.
type client struct {
	base string
	http *http.Client
}

func newClient(opts *RootOptions) (*client, error) {
	u, err := url.Parse(opts.Server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid --server %q", opts.Server))
	}
	return &client{
		base: strings.TrimRight(opts.Server, "/"),
		http: &http.Client{Timeout: opts.Timeout},
	}, nil
}

func (c *client) do(ctx context.Context, method, path string, query url.Values, body any) (*response, error) {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "encode request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "read response", err)
	}

	out := &response{StatusCode: resp.StatusCode, Raw: raw}
	if err := json.Unmarshal(raw, &out.Body); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("unexpected response (HTTP %d)", resp.StatusCode), err)
	}
	return out, nil
}

// decodeData unmarshals the envelope's data into v.
func (r *response) decodeData(v any) error {
	if len(r.Body.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body.Data, v); err != nil {
		return WrapExitError(ExitCommandError, "decode response data", err)
	}
	return nil
}

// apiError converts an error envelope into an ExitError.
func (r *response) apiError(code int) error {
	msg := fmt.Sprintf("HTTP %d", r.StatusCode)
	if r.Body.Error != nil {
		msg = fmt.Sprintf("%s: %s", r.Body.Error.Code, r.Body.Error.Message)
	}
	return NewExitError(code, msg)
}
