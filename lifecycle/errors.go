// Copyright 2026 The Ttyfarm Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"errors"
	"fmt"
)

// ErrAtCapacity means the live-session count has reached the
// configured ceiling. No state changed; the caller may retry once a
// session terminates.
var ErrAtCapacity = errors.New("lifecycle: at session capacity")

// ErrNoPorts means the port range was exhausted even though the
// session ceiling was not reached. Distinct from ErrAtCapacity so
// operators can tell a misconfigured range from genuine load.
var ErrNoPorts = errors.New("lifecycle: no ports available")

// ProvisionError is a sandbox creation failure. The allocated port
// was freed and nothing was registered; the underlying driver
// diagnostic is retained for logs.
type ProvisionError struct {
	Username string
	Err      error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("lifecycle: provisioning sandbox for %s: %v", e.Username, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }
