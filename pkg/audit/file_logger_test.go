package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []Entry {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, scanner.Err())
	return entries
}

func TestFileLogger_Basic(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewFileLogger(FileLoggerConfig{BasePath: dir})
	require.NoError(t, err)
	defer logger.Close()

	actor := int64(3)
	ctx := context.Background()
	for _, action := range []Action{ActionRoleCreate, ActionRoleAssign} {
		entry := &Entry{
			ActorUserID: &actor,
			Action:      action,
			EntityType:  EntityRole,
			EntityID:    "1",
			CreatedAt:   time.Now().UTC(),
		}
		require.NoError(t, logger.Log(ctx, entry))
	}

	entries := readLines(t, filepath.Join(dir, "audit.log"))
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].ID)
	assert.Equal(t, int64(2), entries[1].ID)
	assert.Equal(t, ActionRoleAssign, entries[1].Action)
	require.NotNil(t, entries[0].ActorUserID)
	assert.Equal(t, actor, *entries[0].ActorUserID)
}

func TestFileLogger_Defaults(t *testing.T) {
	cfg := DefaultFileLoggerConfig()
	assert.Equal(t, int64(100*1024*1024), cfg.MaxSize)
	assert.Equal(t, 10, cfg.MaxFiles)

	logger, err := NewFileLogger(FileLoggerConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	defer logger.Close()
	assert.Equal(t, cfg.MaxSize, logger.maxSize)
	assert.Equal(t, cfg.MaxFiles, logger.maxFiles)
}

func TestFileLogger_Rotation(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewFileLogger(FileLoggerConfig{BasePath: dir, MaxSize: 64, MaxFiles: 2})
	require.NoError(t, err)
	defer logger.Close()

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		require.NoError(t, logger.Log(ctx, &Entry{
			Action:     ActionRoleUpdate,
			EntityType: EntityRole,
			EntityID:   "12345",
			CreatedAt:  time.Now().UTC(),
		}))
	}

	rotated, err := filepath.Glob(filepath.Join(dir, "audit-*.log"))
	require.NoError(t, err)
	assert.Len(t, rotated, 2, "old rotated files are pruned")

	// every line exceeds MaxSize so the live file holds only the last entry
	entries := readLines(t, filepath.Join(dir, "audit.log"))
	require.Len(t, entries, 1)
	assert.Equal(t, int64(6), entries[0].ID)
}

func TestFileLogger_AppendsToExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":1,"action":"ROLE_CREATE","entity_type":"role","entity_id":"1","created_at":"2026-01-01T00:00:00Z"}`+"\n"), 0o644))

	logger, err := NewFileLogger(FileLoggerConfig{BasePath: dir})
	require.NoError(t, err)
	assert.Greater(t, logger.size, int64(0))

	require.NoError(t, logger.Log(context.Background(), &Entry{Action: ActionRoleDelete, EntityType: EntityRole, EntityID: "1"}))
	require.NoError(t, logger.Close())

	assert.Len(t, readLines(t, path), 2)
}

func TestFileLogger_Closed(t *testing.T) {
	logger, err := NewFileLogger(FileLoggerConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	err = logger.Log(context.Background(), &Entry{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestFileLogger_BadDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := NewFileLogger(FileLoggerConfig{BasePath: filepath.Join(file, "audit")})
	assert.Error(t, err)
}
