package forge

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	log := newLogger(dir)
	log.Infof("building %s", "zlib")
	log.Warnf("slow mirror")
	log.Errorf("boom")
	log.Close()

	data, err := os.ReadFile(filepath.Join(dir, "log.json"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)

	var rec logRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "INFO", rec.Level)
	assert.Equal(t, "building zlib", rec.Message)
	assert.Greater(t, rec.Time, int64(0))

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, "WARNING", rec.Level)
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &rec))
	assert.Equal(t, "ERROR", rec.Level)
}

func TestNilLoggerIsSafe(t *testing.T) {
	var log *Logger
	log.Infof("no sink")
	log.Warnf("no sink")
	log.Errorf("no sink")
	log.Close()
}
