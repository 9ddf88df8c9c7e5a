package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetUsesLinkerValues(t *testing.T) {
	oldVersion, oldCommit := Version, CommitHash
	t.Cleanup(func() { Version, CommitHash = oldVersion, oldCommit })

	Version = "v0.3.0"
	CommitHash = "0123456789abcdef"

	info := Get()
	assert.Equal(t, "v0.3.0", info.Version)
	assert.Equal(t, "0123456", info.Short())
	assert.Contains(t, info.String(), "nex v0.3.0 (commit 0123456")
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}

func TestGetFallsBackToBuildInfo(t *testing.T) {
	oldCommit := CommitHash
	t.Cleanup(func() { CommitHash = oldCommit })

	CommitHash = ""
	assert.NotEmpty(t, Get().CommitHash)
}

func TestShortKeepsShortHashes(t *testing.T) {
	assert.Equal(t, "abc", Info{CommitHash: "abc"}.Short())
}
