// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package diagnostics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/streamkeeper/internal/failure"
)

func TestWriteDump_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failures.json")
	in := Dump{
		Version:     "v1.0.0",
		GeneratedAt: time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC),
		Records:     []failure.Record{record("r1", "vid"), record("r2", "vid")},
	}

	require.NoError(t, WriteDump(path, in))
	out, err := ReadDump(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestWriteDump_ReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failures.json")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o600))

	require.NoError(t, WriteDump(path, Dump{}))
	out, err := ReadDump(path)
	require.NoError(t, err)
	assert.NotNil(t, out.Records)
	assert.Empty(t, out.Records)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestWriteDump_MissingDirectory(t *testing.T) {
	err := WriteDump(filepath.Join(t.TempDir(), "nope", "failures.json"), Dump{})
	assert.Error(t, err)
}

func TestReadDump_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failures.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err := ReadDump(path)
	assert.ErrorContains(t, err, "decode dump")
}
