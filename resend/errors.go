// Copyright (c) Rivermesh
// SPDX-License-Identifier: Apache-2.0

package resend

import "errors"

// Module errors.
var (
	// Configuration errors.
	ErrInvalidMaxResends = errors.New("max resends must be a positive integer")
	ErrInvalidInterval   = errors.New("resend interval cannot be negative")

	// Usage errors.
	ErrAlreadyBound      = errors.New("module already bound to a channel")
	ErrNilChannel        = errors.New("channel cannot be nil")
	ErrChannelTerminated = errors.New("channel session already past established")
	ErrNotBound          = errors.New("module not bound to a channel")
)
