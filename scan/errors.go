// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scan

import (
	"github.com/pkg/errors"
)

// Error taxonomy of the scan package.
//
// Classification failures (ErrMalformedTap) abort node construction entirely: New never
// returns a partially-built node. Execution failures (ErrComputation) abort the whole
// run: internal buffers are discarded and no partial outer outputs are exposed.
// Early-stop and sequence truncation are not errors, they are reported in Result.
// Rewrite passes never fail: a pass that cannot apply returns the original node
// unchanged, with the reason logged.
var (
	// ErrMalformedTap indicates declared tap offsets or initial-value shapes that don't
	// match the body graph. Raised at classification (construction) time, not recoverable.
	ErrMalformedTap = errors.New("malformed tap declaration")

	// ErrComputation indicates the loop body failed during an iteration (shape mismatch,
	// domain error). Fatal to that execution; no partial results are returned.
	ErrComputation = errors.New("loop body computation failed")
)
