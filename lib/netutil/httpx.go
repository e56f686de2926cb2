// Copyright 2026 The Ttyfarm Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides bounded HTTP response-body helpers. All
// JSON API reads go through these so a misbehaving server can never
// force an unbounded allocation. Not for streaming bodies — those
// should be copied incrementally.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
)

// MaxResponseSize bounds JSON API response reads: 8 MB. Dashboard and
// runtime API responses are orders of magnitude smaller; the limit
// only exists to cap pathological responses.
const MaxResponseSize int64 = 8 << 20

// DecodeResponse reads a response body up to MaxResponseSize and
// JSON-decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an error response body for use in diagnostics.
// Read failures are ignored; a truncated body is still useful in an
// error message.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	return string(data)
}
