package main

import (
	"os"
	"path/filepath"
	"testing"

	"kit-adapter-aws/internal/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactFor(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "server.zip")
	require.NoError(t, os.WriteFile(file, []byte("zip"), 0644))
	want := infra.NewArtifact([]byte("zip"))

	key, sha, err := artifactFor(file, "")
	require.NoError(t, err)
	assert.Equal(t, want.Key, key)
	assert.Equal(t, want.Sha256, sha)

	key, sha, err = artifactFor(file, "releases/server.zip")
	require.NoError(t, err)
	assert.Equal(t, "releases/server.zip", key)
	assert.Equal(t, want.Sha256, sha)

	missing := filepath.Join(dir, "missing.zip")
	key, sha, err = artifactFor(missing, "releases/server.zip")
	require.NoError(t, err)
	assert.Equal(t, "releases/server.zip", key)
	assert.Empty(t, sha)

	_, _, err = artifactFor(missing, "")
	assert.Error(t, err)
}
