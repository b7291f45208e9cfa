package msf

import (
	"bytes"
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildArchive assembles an archive from already laid out entries and the
// raw data section, for crafting inputs Pack would refuse to produce.
func buildArchive(t *testing.T, table Table, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, writeHeader(&buf, uint32(len(table))))
	for _, e := range table {
		require.NoError(t, writeEntry(&buf, e))
	}
	buf.Write(data)
	return buf.Bytes()
}

func unpackBytes(t *testing.T, data []byte, opts ...UnpackOption) (string, error) {
	t.Helper()
	destDir := filepath.Join(t.TempDir(), "out")
	err := Unpack(context.Background(), bytes.NewReader(data), destDir, opts...)
	return destDir, err
}

func TestUnpack_BadMagicWritesNothing(t *testing.T) {
	t.Parallel()

	data := append([]byte("NOTMSF00"), 0, 0, 0, 1)
	destDir, err := unpackBytes(t, data)
	assert.ErrorIs(t, err, ErrBadMagic)

	// The destination must not even exist: rejection happens before any
	// output is touched.
	_, statErr := os.Stat(destDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestUnpack_Idempotent(t *testing.T) {
	t.Parallel()

	files := map[string][]byte{
		"x.txt":       []byte("xx"),
		"d/y.txt":     []byte("yy"),
		"d/e/z.empty": {},
	}
	data := packBytes(t, writeTree(t, files))

	first, err := unpackBytes(t, data)
	require.NoError(t, err)
	second, err := unpackBytes(t, data)
	require.NoError(t, err)

	assert.Equal(t, files, readTree(t, first))
	assert.Equal(t, readTree(t, first), readTree(t, second))
}

func TestUnpack_BoundsChecked(t *testing.T) {
	t.Parallel()

	table := Table{{Name: "liar.txt", Offset: 30, Length: 1 << 20}}
	data := buildArchive(t, table, []byte("tiny"))

	destDir, err := unpackBytes(t, data)
	assert.ErrorIs(t, err, ErrEntryBounds)

	entries, readErr := os.ReadDir(destDir)
	if readErr == nil {
		assert.Empty(t, entries)
	}
}

func TestUnpack_OffsetBeforeData(t *testing.T) {
	t.Parallel()

	// An offset pointing into the table itself is within bounds and is
	// honored as written; the table is the only source of truth.
	table := Table{{Name: "weird.bin", Offset: 0, Length: 8}}
	data := buildArchive(t, table, nil)

	destDir, err := unpackBytes(t, data)
	require.NoError(t, err)
	content, err := os.ReadFile(filepath.Join(destDir, "weird.bin"))
	require.NoError(t, err)
	assert.Equal(t, magic[:], content)
}

func TestUnpack_TraversalRejected(t *testing.T) {
	t.Parallel()

	table := Table{{Name: "../escape.txt", Offset: 34, Length: 5}}
	data := buildArchive(t, table, []byte("pwned"))

	destDir, err := unpackBytes(t, data)
	var pathErr *fs.PathError
	require.ErrorAs(t, err, &pathErr)
	assert.ErrorIs(t, pathErr.Err, fs.ErrInvalid)

	_, statErr := os.Stat(filepath.Join(filepath.Dir(destDir), "escape.txt"))
	assert.Error(t, statErr)
}

func TestUnpack_DuplicateNamesLastWins(t *testing.T) {
	t.Parallel()

	table := Table{
		{Name: "same.txt", Offset: 0, Length: 5},
		{Name: "same.txt", Offset: 5, Length: 6},
	}
	start := table.DataStart()
	table[0].Offset = start
	table[1].Offset = start + 5
	data := buildArchive(t, table, []byte("firstsecond"))

	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))
	destDir, err := unpackBytes(t, data, UnpackWithLogger(logger))
	require.NoError(t, err)
	content, err := os.ReadFile(filepath.Join(destDir, "same.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), content)
	assert.Contains(t, logBuf.String(), "duplicate entry name")
}

func TestUnpack_CreatesNestedDirectories(t *testing.T) {
	t.Parallel()

	files := map[string][]byte{"a/b/c/d/deep.txt": []byte("deep")}
	data := packBytes(t, writeTree(t, files))

	destDir, err := unpackBytes(t, data)
	require.NoError(t, err)
	assert.Equal(t, files, readTree(t, destDir))
}

func TestUnpack_OverwritesExistingFile(t *testing.T) {
	t.Parallel()

	data := packBytes(t, writeTree(t, map[string][]byte{"f.txt": []byte("new")}))

	destDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(destDir, "f.txt"), []byte("old and longer"), 0o644))

	require.NoError(t, Unpack(context.Background(), bytes.NewReader(data), destDir))
	content, err := os.ReadFile(filepath.Join(destDir, "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), content)
}

func TestUnpack_EmptyArchive(t *testing.T) {
	t.Parallel()

	data := buildArchive(t, Table{}, nil)
	destDir, err := unpackBytes(t, data)
	require.NoError(t, err)

	entries, err := os.ReadDir(destDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUnpack_ReportsProgress(t *testing.T) {
	t.Parallel()

	data := packBytes(t, writeTree(t, map[string][]byte{
		"a.txt": []byte("a"),
		"b.txt": []byte("b"),
	}))

	var names []string
	_, err := unpackBytes(t, data, UnpackWithProgress(func(ev ProgressEvent) {
		assert.Equal(t, StageExtracting, ev.Stage)
		assert.Equal(t, 2, ev.FilesTotal)
		names = append(names, ev.Path)
	}))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, names)
}

func TestUnpack_ContextCanceled(t *testing.T) {
	t.Parallel()

	data := packBytes(t, writeTree(t, map[string][]byte{"a.txt": []byte("a")}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Unpack(ctx, bytes.NewReader(data), filepath.Join(t.TempDir(), "out"))
	assert.ErrorIs(t, err, context.Canceled)
}
