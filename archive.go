package msf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/msf/internal/sizing"
)

// ByteSource provides random access to an archive.
//
// Implementations exist for local files via OpenFile; any io.ReaderAt with
// a known size works, for example a bytes.Reader over an in-memory archive.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// Cache provides storage for extracted file contents, keyed by entry name.
//
// Implementations should handle their own size limits and eviction
// policies, and must not mutate content slices they are given.
type Cache interface {
	// Get retrieves content by entry name.
	// Returns false if the content is not cached.
	Get(name string) ([]byte, bool)

	// Put stores content under the entry name.
	Put(name string, content []byte) error
}

// Archive provides random access to the files of an MSF archive.
//
// Archive implements fs.FS, fs.StatFS, fs.ReadFileFS, and fs.ReadDirFS for
// compatibility with the standard library. Directories are synthesized
// from entry paths; the format does not store them explicitly.
type Archive struct {
	table  Table
	byName map[string]int
	dirs   map[string]struct{}
	source ByteSource
	cache  Cache
	logger *slog.Logger

	readGroup singleflight.Group
}

// Interface compliance.
var (
	_ fs.FS         = (*Archive)(nil)
	_ fs.StatFS     = (*Archive)(nil)
	_ fs.ReadFileFS = (*Archive)(nil)
	_ fs.ReadDirFS  = (*Archive)(nil)
)

// OpenOption configures an Archive.
type OpenOption func(*Archive)

// WithCache configures the Archive to cache file contents by entry name.
// Concurrent reads of the same entry are deduplicated before they reach
// the underlying source.
func WithCache(c Cache) OpenOption {
	return func(a *Archive) {
		a.cache = c
	}
}

// WithLogger sets the logger used for warnings. By default nothing is logged.
func WithLogger(l *slog.Logger) OpenOption {
	return func(a *Archive) {
		a.logger = l
	}
}

// Open reads and validates the header and table of the archive in src and
// returns an Archive for random access. No data bytes are read until a
// file is opened.
//
// Entries whose names collide after normalization resolve to the later
// table entry, matching Unpack's last-writer-wins behavior.
func Open(src ByteSource, opts ...OpenOption) (*Archive, error) {
	a := &Archive{
		byName: make(map[string]int),
		dirs:   map[string]struct{}{".": {}},
		source: src,
	}
	for _, opt := range opts {
		opt(a)
	}

	sr := io.NewSectionReader(src, 0, src.Size())
	count, err := readHeader(sr)
	if err != nil {
		return nil, err
	}
	a.table, err = readTable(sr, count, a.log())
	if err != nil {
		return nil, err
	}

	for i, e := range a.table {
		name := NormalizePath(e.Name)
		if name == "." || !fs.ValidPath(name) {
			a.log().Warn("entry name not addressable, skipping", "name", e.Name)
			continue
		}
		if _, dup := a.byName[name]; dup {
			a.log().Warn("duplicate entry name, later entry wins", "name", name)
		}
		a.byName[name] = i
		for dir := path.Dir(name); dir != "."; dir = path.Dir(dir) {
			a.dirs[dir] = struct{}{}
		}
	}
	return a, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// Len returns the number of table entries, including any that are not
// addressable by name.
func (a *Archive) Len() int {
	return len(a.table)
}

// Entries returns an iterator over all table entries in table order.
func (a *Archive) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, e := range a.table {
			if !yield(e) {
				return
			}
		}
	}
}

// Lookup returns the entry for the given path.
// Returns false if the path does not exist in the archive.
func (a *Archive) Lookup(name string) (Entry, bool) {
	i, ok := a.byName[NormalizePath(name)]
	if !ok {
		return Entry{}, false
	}
	return a.table[i], true
}

// ReadFile implements fs.ReadFileFS.
//
// If a cache is configured and holds the entry, the cached content is
// served without touching the source. Concurrent reads of the same
// entry share a single source read. The returned slice is the caller's
// to modify; cached or shared content is copied before it is returned.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrInvalid}
	}
	i, ok := a.byName[name]
	if !ok {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrNotExist}
	}
	e := a.table[i]

	if a.cache != nil {
		if content, hit := a.cache.Get(name); hit {
			return bytes.Clone(content), nil
		}
	}

	v, err, shared := a.readGroup.Do(name, func() (any, error) {
		content, err := a.readEntryData(e)
		if err != nil {
			return nil, err
		}
		if a.cache != nil {
			if err := a.cache.Put(name, content); err != nil {
				a.log().Warn("cache put failed", "name", name, "error", err)
			}
		}
		return content, nil
	})
	if err != nil {
		return nil, err
	}
	content := v.([]byte)
	if shared || a.cache != nil {
		content = bytes.Clone(content)
	}
	return content, nil
}

// readEntryData reads one entry's raw bytes from the source, bounds-checked
// against the source size.
func (a *Archive) readEntryData(e Entry) ([]byte, error) {
	size := a.source.Size()
	if size < 0 {
		return nil, ErrSizeOverflow
	}
	end, ok := sizing.AddUint64(e.Offset, e.Length)
	if !ok || end > uint64(size) {
		return nil, fmt.Errorf("read %s: %w", e.Name, ErrEntryBounds)
	}

	n, err := sizing.ToInt(e.Length, ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	offset, err := sizing.ToInt64(e.Offset, ErrSizeOverflow)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, n)
	if read, err := a.source.ReadAt(buf, offset); err != nil && !(read == n && errors.Is(err, io.EOF)) {
		return nil, fmt.Errorf("read %s: %w", e.Name, err)
	}
	return buf, nil
}

// Open implements fs.FS.
func (a *Archive) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	if i, ok := a.byName[name]; ok {
		content, err := a.ReadFile(name)
		if err != nil {
			return nil, err
		}
		return &memFile{
			Reader: bytes.NewReader(content),
			info:   a.entryInfo(a.table[i], name),
		}, nil
	}
	if a.isDir(name) {
		entries, err := a.ReadDir(name)
		if err != nil {
			return nil, err
		}
		return &dirHandle{
			info:    fileInfo{name: path.Base(name), dir: true},
			entries: entries,
		}, nil
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// Stat implements fs.StatFS. Directory info is synthesized for paths that
// are prefixes of entry names.
func (a *Archive) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	if i, ok := a.byName[name]; ok {
		return a.entryInfo(a.table[i], name), nil
	}
	if a.isDir(name) {
		return fileInfo{name: path.Base(name), dir: true}, nil
	}
	return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

// ReadDir implements fs.ReadDirFS. Entries are synthesized from file
// paths and sorted by name.
func (a *Archive) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	if !a.isDir(name) {
		if _, ok := a.byName[name]; ok {
			return nil, &fs.PathError{Op: "readdir", Path: name, Err: errors.New("not a directory")}
		}
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}

	prefix := ""
	if name != "." {
		prefix = name + "/"
	}

	var entries []fs.DirEntry
	for dir := range a.dirs {
		if child, ok := immediateChild(dir, prefix); ok {
			entries = append(entries, fs.FileInfoToDirEntry(fileInfo{name: child, dir: true}))
		}
	}
	for p, i := range a.byName {
		if _, ok := immediateChild(p, prefix); ok {
			entries = append(entries, fs.FileInfoToDirEntry(a.entryInfo(a.table[i], p)))
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

func (a *Archive) isDir(name string) bool {
	_, ok := a.dirs[name]
	return ok
}

// entryInfo builds file info for an entry. The format stores no metadata
// beyond name and length, so mode and mtime are fixed.
func (a *Archive) entryInfo(e Entry, name string) fileInfo {
	size, err := sizing.ToInt64(e.Length, ErrSizeOverflow)
	if err != nil {
		size = 0
	}
	return fileInfo{name: path.Base(name), size: size}
}

// immediateChild reports whether p is a direct child of the directory
// identified by prefix ("" for the root), returning the child's base name.
func immediateChild(p, prefix string) (string, bool) {
	if p == "." || !strings.HasPrefix(p, prefix) {
		return "", false
	}
	rest := p[len(prefix):]
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

// fileInfo is the synthesized fs.FileInfo for archive files and directories.
type fileInfo struct {
	name string
	size int64
	dir  bool
}

func (fi fileInfo) Name() string { return fi.name }
func (fi fileInfo) Size() int64  { return fi.size }
func (fi fileInfo) Mode() fs.FileMode {
	if fi.dir {
		return fs.ModeDir | 0o755
	}
	return 0o644
}
func (fi fileInfo) ModTime() time.Time { return time.Time{} }
func (fi fileInfo) IsDir() bool        { return fi.dir }
func (fi fileInfo) Sys() any           { return nil }

// memFile is an fs.File over content already read into memory.
// It also supports ReadAt and Seek via the embedded bytes.Reader.
type memFile struct {
	*bytes.Reader
	info fileInfo
}

func (f *memFile) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *memFile) Close() error               { return nil }

// dirHandle is an fs.ReadDirFile over a synthesized directory.
type dirHandle struct {
	info    fileInfo
	entries []fs.DirEntry
	pos     int
}

func (d *dirHandle) Stat() (fs.FileInfo, error) { return d.info, nil }
func (d *dirHandle) Close() error               { return nil }

func (d *dirHandle) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.info.name, Err: errors.New("is a directory")}
}

func (d *dirHandle) ReadDir(n int) ([]fs.DirEntry, error) {
	if n <= 0 {
		entries := d.entries[d.pos:]
		d.pos = len(d.entries)
		return entries, nil
	}
	if d.pos >= len(d.entries) {
		return nil, io.EOF
	}
	end := min(d.pos+n, len(d.entries))
	entries := d.entries[d.pos:end]
	d.pos = end
	return entries, nil
}

// fileSource wraps *os.File to implement ByteSource.
// os.File has ReadAt but not Size, so we cache the size at construction.
type fileSource struct {
	file *os.File
	size int64
}

func newFileSource(f *os.File) (*fileSource, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	return &fileSource{file: f, size: info.Size()}, nil
}

// ReadAt implements io.ReaderAt.
func (s *fileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

// Size returns the total size of the file.
func (s *fileSource) Size() int64 {
	return s.size
}

var _ ByteSource = (*fileSource)(nil)

// ArchiveFile wraps an Archive with its underlying file handle.
// Close must be called to release the handle.
type ArchiveFile struct {
	*Archive
	file *os.File
}

// Close closes the underlying archive file.
func (af *ArchiveFile) Close() error {
	if af.file == nil {
		return nil
	}
	err := af.file.Close()
	af.file = nil
	return err
}

// OpenFile opens an MSF archive from a path on disk.
//
// The table is read into memory; the file stays open for random access.
// The returned ArchiveFile must be closed to release the handle.
func OpenFile(archivePath string, opts ...OpenOption) (*ArchiveFile, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	source, err := newFileSource(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	a, err := Open(source, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &ArchiveFile{Archive: a, file: f}, nil
}
