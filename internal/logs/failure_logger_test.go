package logs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		msg  string
		want string
	}{
		{"", CategoryUnknown},
		{"context deadline exceeded", CategoryTimeout},
		{`exec: "npx": executable file not found in $PATH`, CategoryMissingPackage},
		{"server returned 401 Unauthorized", CategoryAuth},
		{"dial tcp 127.0.0.1:3000: connect: connection refused", CategoryNetwork},
		{"open /srv/run: permission denied", CategoryPermission},
		{"unsupported transport: websocket", CategoryUnsupported},
		{"invalid header value", CategoryConfig},
		{"the server sneezed", CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.want+"/"+tt.msg, func(t *testing.T) {
			got, suggestions := CategorizeError(tt.msg)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, suggestions)
		})
	}
}

func TestFailureLog_WriteReadRemove(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, LogServerFailure(dir, "alpha", "connection refused", at))
	require.NoError(t, LogServerFailure(dir, "beta", "context deadline exceeded", at))
	require.NoError(t, LogServerFailure(dir, "alpha", "connection refused", at.Add(time.Minute)))

	lines, err := ReadFailureLog(dir, 0)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `Server "alpha"`)
	assert.Contains(t, lines[0], "Type: network")
	assert.Contains(t, lines[1], "Type: timeout")

	last, err := ReadFailureLog(dir, 1)
	require.NoError(t, err)
	assert.Equal(t, lines[2:], last)

	require.NoError(t, RemoveServerFromFailureLog(dir, "alpha"))
	lines, err = ReadFailureLog(dir, 0)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `Server "beta"`)
}

func TestFailureLog_MissingFile(t *testing.T) {
	dir := t.TempDir()

	lines, err := ReadFailureLog(dir, 10)
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.NoError(t, RemoveServerFromFailureLog(dir, "ghost"))
	assert.NoError(t, BackupAndClearFailureLog(dir))
}

func TestBackupAndClearFailureLog(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, LogServerFailure(dir, "alpha", "boom", time.Now()))

	require.NoError(t, BackupAndClearFailureLog(dir))

	info, err := os.Stat(filepath.Join(dir, FailureLogName))
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	backups, err := filepath.Glob(filepath.Join(dir, "failed_servers.backup.*.log"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}
