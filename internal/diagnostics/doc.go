// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package diagnostics ships failure records off the box: a Kafka sink fed
// from the classifier and an atomic JSON dump written on shutdown.
package diagnostics
