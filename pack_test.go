package msf

import (
	"bytes"
	"context"
	"encoding/binary"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// packBytes packs dir into memory.
func packBytes(t *testing.T, dir string, opts ...PackOption) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Pack(context.Background(), dir, &buf, opts...))
	return buf.Bytes()
}

// parseArchive decodes header and table of a packed archive.
func parseArchive(t *testing.T, data []byte) Table {
	t.Helper()
	r := bytes.NewReader(data)
	count, err := readHeader(r)
	require.NoError(t, err)
	table, err := readTable(r, count, discardLogger())
	require.NoError(t, err)
	return table
}

// readTree reads every regular file under dir, keyed by slash-separated
// relative path.
func readTree(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	tree := map[string][]byte{}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		require.NoError(t, err)
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		require.NoError(t, err)
		content, err := os.ReadFile(p)
		require.NoError(t, err)
		tree[filepath.ToSlash(rel)] = content
		return nil
	})
	require.NoError(t, err)
	return tree
}

func TestPack_OffsetIntegrity(t *testing.T) {
	t.Parallel()

	files := map[string][]byte{
		"a.txt":     []byte("alpha"),
		"b/c.txt":   bytes.Repeat([]byte("x"), 1000),
		"b/d/e.bin": {0, 1, 2},
	}
	data := packBytes(t, writeTree(t, files))
	table := parseArchive(t, data)
	require.Len(t, table, 3)

	// datastart = header + per-entry (4+4+1+namelen), and the first
	// entry's data begins exactly there.
	wantStart := uint64(12)
	for _, e := range table {
		wantStart += 9 + uint64(len(e.Name))
	}
	assert.Equal(t, wantStart, table.DataStart())
	assert.Equal(t, wantStart, table[0].Offset)

	// Offsets are sequential sums of prior lengths; data blocks are
	// contiguous and hold the file contents.
	ofs := wantStart
	for _, e := range table {
		assert.Equal(t, ofs, e.Offset)
		assert.Equal(t, files[e.Name], data[e.Offset:e.Offset+e.Length])
		ofs += e.Length
	}
	assert.Equal(t, uint64(len(data)), ofs)
}

func TestPack_EmptyTree(t *testing.T) {
	t.Parallel()

	data := packBytes(t, t.TempDir())
	require.Len(t, data, 12)
	assert.Equal(t, magic[:], data[:8])
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(data[8:]))
}

func TestPack_DotOnlyTreeIsEmpty(t *testing.T) {
	t.Parallel()

	dir := writeTree(t, map[string][]byte{
		".hidden":     []byte("h"),
		".git/config": []byte("g"),
	})
	data := packBytes(t, dir)
	assert.Len(t, data, 12)
}

func TestPack_TruncatedNameStored(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("d", 100) + "/" + strings.Repeat("e", 100) + "/" + strings.Repeat("f", 100) + ".txt"
	content := []byte("still readable")
	data := packBytes(t, writeTree(t, map[string][]byte{long: content}))

	table := parseArchive(t, data)
	require.Len(t, table, 1)
	assert.Len(t, table[0].Name, MaxNameLen)
	assert.Equal(t, byte(MaxNameLen), data[12+8])

	// Truncation affects only the stored name, not the data.
	assert.Equal(t, content, data[table[0].Offset:table[0].Offset+table[0].Length])
}

func TestPack_RoundTrip(t *testing.T) {
	t.Parallel()

	files := map[string][]byte{
		"readme.md":        []byte("# readme"),
		"src/main.go":      []byte("package main"),
		"src/lib/util.go":  []byte("package lib"),
		"assets/empty.dat": {},
		"assets/blob.bin":  bytes.Repeat([]byte{0xAB}, 4096),
	}
	srcDir := writeTree(t, files)
	// Dot entries must not survive the round trip.
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, ".secret"), []byte("s"), 0o644))

	archive := filepath.Join(t.TempDir(), "tree.msf")
	ctx := context.Background()
	require.NoError(t, PackFile(ctx, srcDir, archive))

	destDir := t.TempDir()
	require.NoError(t, UnpackFile(ctx, archive, destDir))

	assert.Equal(t, files, readTree(t, destDir))
}

func TestPack_ContextCanceled(t *testing.T) {
	t.Parallel()

	dir := writeTree(t, map[string][]byte{"a.txt": []byte("a")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Pack(ctx, dir, &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPack_MissingDirectory(t *testing.T) {
	t.Parallel()

	err := Pack(context.Background(), filepath.Join(t.TempDir(), "nope"), &bytes.Buffer{})
	assert.Error(t, err)
}

func TestPack_ReportsProgress(t *testing.T) {
	t.Parallel()

	dir := writeTree(t, map[string][]byte{
		"a.txt": []byte("a"),
		"b.txt": []byte("b"),
	})

	var events []ProgressEvent
	packBytes(t, dir, PackWithProgress(func(ev ProgressEvent) {
		events = append(events, ev)
	}))

	require.NotEmpty(t, events)
	assert.Equal(t, StageScanning, events[0].Stage)

	var packed []string
	for _, ev := range events[1:] {
		assert.Equal(t, StagePacking, ev.Stage)
		assert.Equal(t, 2, ev.FilesTotal)
		packed = append(packed, ev.Path)
	}
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, packed)
}

func TestAssignOffsets_Overflow(t *testing.T) {
	t.Parallel()

	// Sums are 64-bit; the failure is detected, not wrapped.
	table := Table{
		{Name: "big1", Length: math.MaxUint32},
		{Name: "big2", Length: math.MaxUint32},
		{Name: "late", Length: 1},
	}
	err := assignOffsets(table, table.DataStart())
	assert.ErrorIs(t, err, ErrSizeOverflow)
}

func TestAssignOffsets_LargeTailEntry(t *testing.T) {
	t.Parallel()

	// A single near-4GiB entry is representable as long as its own
	// offset still fits the on-disk field.
	table := Table{
		{Name: "small", Length: 10},
		{Name: "huge", Length: math.MaxUint32 - 100},
	}
	require.NoError(t, assignOffsets(table, table.DataStart()))
	assert.Equal(t, table.DataStart(), table[0].Offset)
	assert.Equal(t, table.DataStart()+10, table[1].Offset)
}
