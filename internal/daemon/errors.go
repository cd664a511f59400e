// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import "errors"

var (
	// ErrMissingRuntime is returned by Run when no runtime was built.
	ErrMissingRuntime = errors.New("daemon: runtime is required")

	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("daemon: already running")

	// ErrUnknownCacheBackend is returned for a cache.backend other than
	// memory, redis or none.
	ErrUnknownCacheBackend = errors.New("daemon: unknown cache backend")
)
