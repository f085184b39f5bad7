/*
Copyright 2026 The Checkout Authors
SPDX-License-Identifier: Apache-2.0
*/

package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileRoundTripAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.yaml")

	main := NewFile(path)
	_, ok, err := main.Load(RepositoryPathKey)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, main.Save(IsPostKey, "true"))
	require.NoError(t, main.Save(RepositoryPathKey, "/work/repo"))
	require.NoError(t, main.Save(RepositoryPathKey, "/work/other"))

	// A separate invocation sees the same values.
	post := NewFile(path)
	v, ok, err := post.Load(RepositoryPathKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "/work/other", v)

	v, ok, err = post.Load(IsPostKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "true", v)
}

func TestFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- not\n- a map\n"), 0o644))

	_, _, err := NewFile(path).Load(RepositoryPathKey)
	require.Error(t, err)
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	_, ok, err := m.Load("k")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.Save("k", "v"))
	v, ok, err := m.Load("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestFileReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	f := NewFile(path)

	// Nothing written yet.
	require.NoError(t, f.Reset())

	require.NoError(t, f.Save(IsPostKey, "true"))
	require.NoError(t, f.Reset())
	require.NoFileExists(t, path)

	_, ok, err := NewFile(path).Load(IsPostKey)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryReset(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Save("k", "v"))
	require.NoError(t, m.Reset())

	_, ok, err := m.Load("k")
	require.NoError(t, err)
	require.False(t, ok)
}
