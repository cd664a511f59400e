// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package diagnostics

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/streamkeeper/internal/failure"
)

// Dump is the on-disk snapshot of the failure history.
type Dump struct {
	Version     string           `json:"version,omitempty"`
	GeneratedAt time.Time        `json:"generatedAt"`
	Records     []failure.Record `json:"records"`
}

// WriteDump replaces path atomically with d.
func WriteDump(path string, d Dump) error {
	if d.Records == nil {
		d.Records = []failure.Record{}
	}

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending dump file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	enc := json.NewEncoder(pending)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("encode dump: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace dump: %w", err)
	}
	return nil
}

// ReadDump loads a dump written by WriteDump.
func ReadDump(path string) (Dump, error) {
	var d Dump
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return d, err
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("decode dump %s: %w", path, err)
	}
	return d, nil
}
