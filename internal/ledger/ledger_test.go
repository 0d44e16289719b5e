package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailingest-engine/internal/domain"
)

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "archive.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, l.Len())
	assert.False(t, l.Contains("m1", "a.html"))
}

func TestAppend_FlushesEveryEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "archive.json")
	l, err := Load(path)
	require.NoError(t, err)

	added, err := l.Append(Entry{MessageID: "m1", AttachmentName: "a.html", SavedPath: "/x/a.html"})
	require.NoError(t, err)
	assert.True(t, added)

	// Visible on disk before any explicit save.
	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, reloaded.Contains("m1", "a.html"))
	assert.Equal(t, []Entry{{MessageID: "m1", AttachmentName: "a.html", SavedPath: "/x/a.html"}}, reloaded.Entries())

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	assert.Empty(t, matches)
}

func TestAppend_IgnoresDuplicatePair(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "archive.json"))
	require.NoError(t, err)

	_, err = l.Append(Entry{MessageID: "m1", AttachmentName: "a.html"})
	require.NoError(t, err)
	added, err := l.Append(Entry{MessageID: "m1", AttachmentName: "a.html", SavedPath: "other"})
	require.NoError(t, err)

	assert.False(t, added)
	assert.Equal(t, 1, l.Len())
}

func TestContains_UsesPairIdentity(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "archive.json"))
	require.NoError(t, err)
	_, err = l.Append(Entry{MessageID: "m1", AttachmentName: "a.html"})
	require.NoError(t, err)

	assert.True(t, l.Contains("m1", "a.html"))
	assert.False(t, l.Contains("m1", "b.html"))
	assert.False(t, l.Contains("m2", "a.html"))
}

func TestLoad_AcceptsLegacySavedKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.json")
	legacy := `[{"message_id":"m1","attachment_name":"a.html","saved":"old/a.html"}]`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	l, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, l.Len())
	assert.Equal(t, "old/a.html", l.Entries()[0].SavedPath)

	_, err = l.Append(Entry{MessageID: "m2", AttachmentName: "b.html"})
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw []map[string]string
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "old/a.html", raw[0]["saved_path"])
}

func TestLoad_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestAppend_UnwritableDirectory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	l, err := Load(filepath.Join(blocker, "archive.json"))
	require.NoError(t, err)

	_, err = l.Append(Entry{MessageID: "m1", AttachmentName: "a"})
	assert.ErrorIs(t, err, domain.ErrFilesystem)
	assert.False(t, l.Contains("m1", "a"))
}
