package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReadRecent_MissingDir(t *testing.T) {
	entries, err := ReadRecent(filepath.Join(t.TempDir(), "absent"), "app", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadRecent_NewestFirstAndCapped(t *testing.T) {
	dir := t.TempDir()
	var content string
	for i := 1; i <= 5; i++ {
		content += fmt.Sprintf(`{"timestamp":"2025-03-10T12:00:0%d.000Z","level":"info","message":"m%d","sessionId":"s","pid":7,"n":%d}`+"\n", i, i, i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app-2025-03-10.log"), []byte(content), 0644))

	entries, err := ReadRecent(dir, "app", 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "m5", entries[0].Message)
	assert.Equal(t, "m4", entries[1].Message)
	assert.Equal(t, "m3", entries[2].Message)
	assert.Equal(t, "s", entries[0].SessionID)
	assert.Equal(t, 7, entries[0].PID)
	assert.Equal(t, map[string]interface{}{"n": float64(5)}, entries[0].Attributes)
}

func TestReadRecent_ReadsNewestFileOnly(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app-2025-03-09.log"), []byte(`{"level":"info","message":"old"}`+"\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app-2025-03-10.log"), []byte(`{"level":"warn","message":"new"}`+"\n"), 0644))

	entries, err := ReadRecent(dir, "app", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].Message)
	assert.Equal(t, "warn", entries[0].Level)
}

func TestReadRecent_MalformedLines(t *testing.T) {
	dir := t.TempDir()
	content := "not json at all\n\n" + `{"message":"no level"}` + "\n[1,2]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app-2025-03-10.log"), []byte(content), 0644))

	entries, err := ReadRecent(dir, "app", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, Entry{Level: "info", Message: "[1,2]"}, entries[0])
	assert.Equal(t, "no level", entries[1].Message)
	assert.Equal(t, "info", entries[1].Level)
	assert.Equal(t, Entry{Level: "info", Message: "not json at all"}, entries[2])
}

func TestReadRecent_DefaultCount(t *testing.T) {
	dir := t.TempDir()
	var content string
	for i := 0; i < DefaultRecentCount+10; i++ {
		content += fmt.Sprintf(`{"level":"info","message":"m%d"}`+"\n", i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app-2025-03-10.log"), []byte(content), 0644))

	entries, err := ReadRecent(dir, "app", -1)
	require.NoError(t, err)
	assert.Len(t, entries, DefaultRecentCount)
	assert.Equal(t, fmt.Sprintf("m%d", DefaultRecentCount+9), entries[0].Message)
}

func TestLogger_RecentEntries(t *testing.T) {
	logger, sess := newFileLogger(t, nil)
	ctx := context.Background()

	logger.Info(ctx, "first")
	logger.Warn(ctx, "second", zap.String("component", "sampler"))
	require.NoError(t, logger.Sync())

	entries, err := logger.RecentEntries(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "second", entries[0].Message)
	assert.Equal(t, "warn", entries[0].Level)
	assert.Equal(t, sess.SessionID, entries[0].SessionID)
	assert.Equal(t, "sampler", entries[0].Attributes["component"])
	assert.Equal(t, "first", entries[1].Message)
}

func TestLogger_RecentEntriesBeforeAnyWrite(t *testing.T) {
	logger, _ := newFileLogger(t, nil)

	entries, err := logger.RecentEntries(10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
