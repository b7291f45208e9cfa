package msf

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/meigma/msf/internal/sizing"
)

// Unpack extracts every entry of the archive read from r into destDir,
// creating destDir and any missing ancestor directories as needed.
//
// The header and the full table are read and validated before any file is
// written; an archive with bad magic produces no output at all. Entries
// are then extracted in table order. Existing files are truncated and
// overwritten, so duplicate table names resolve last-writer-wins; the
// collision is logged at warning level.
//
// Each entry's data range is checked against the archive size and rejected
// with ErrEntryBounds if the table lies. Entry names must stay inside
// destDir; traversal names fail with fs.ErrInvalid.
//
// An I/O failure aborts the whole operation. Files written before the
// failing entry remain on disk; no cleanup of partial output is attempted.
func Unpack(ctx context.Context, r io.ReadSeeker, destDir string, opts ...UnpackOption) error {
	cfg := unpackConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	u := &unpacker{cfg: cfg}

	size, err := archiveSize(r)
	if err != nil {
		return fmt.Errorf("measure archive: %w", err)
	}

	count, err := readHeader(r)
	if err != nil {
		return err
	}
	table, err := readTable(r, count, u.log())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	root, err := os.OpenRoot(destDir)
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}
	defer root.Close()

	u.log().Info("unpacking archive", "file_count", len(table), "dest", destDir)

	var buf copyBuffer
	seen := make(map[string]struct{}, len(table))
	for i, e := range table {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, dup := seen[e.Name]; dup {
			u.log().Warn("duplicate entry name, overwriting earlier data", "name", e.Name)
		}
		seen[e.Name] = struct{}{}
		u.report(StageExtracting, e.Name, i, len(table))
		if err := u.extractEntry(r, root, &buf, e, size); err != nil {
			return err
		}
	}
	return nil
}

// UnpackFile is a convenience wrapper that opens archivePath and unpacks
// it into destDir.
func UnpackFile(ctx context.Context, archivePath, destDir string, opts ...UnpackOption) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()
	return Unpack(ctx, f, destDir, opts...)
}

// unpacker holds state for archive extraction.
type unpacker struct {
	cfg unpackConfig
}

// log returns the logger, falling back to a discard logger if nil.
func (u *unpacker) log() *slog.Logger {
	if u.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return u.cfg.logger
}

// report sends a progress event if a callback is configured.
func (u *unpacker) report(stage ProgressStage, path string, filesDone, filesTotal int) {
	if u.cfg.progress == nil {
		return
	}
	u.cfg.progress(ProgressEvent{
		Stage:      stage,
		Path:       path,
		FilesDone:  filesDone,
		FilesTotal: filesTotal,
	})
}

// extractEntry copies one entry's data out of the archive into its
// destination file, creating ancestor directories first.
func (u *unpacker) extractEntry(r io.ReadSeeker, root *os.Root, buf *copyBuffer, e Entry, archiveLen uint64) error {
	end, ok := sizing.AddUint64(e.Offset, e.Length)
	if !ok || end > archiveLen {
		return fmt.Errorf("entry %s (offset %d, length %d): %w", e.Name, e.Offset, e.Length, ErrEntryBounds)
	}

	name := NormalizePath(e.Name)
	if name == "." || !fs.ValidPath(name) {
		return &fs.PathError{Op: "unpack", Path: e.Name, Err: fs.ErrInvalid}
	}
	rel := filepath.FromSlash(name)

	u.ensureDirs(root, filepath.Dir(rel))

	b, err := buf.grab(e.Length)
	if err != nil {
		return err
	}
	offset, err := sizing.ToInt64(e.Offset, ErrSizeOverflow)
	if err != nil {
		return err
	}
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek to %s: %w", e.Name, err)
	}
	if _, err := io.ReadFull(r, b); err != nil {
		return fmt.Errorf("read %s: %w", e.Name, err)
	}

	f, err := root.OpenFile(rel, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	return f.Close()
}

// ensureDirs creates missing ancestor directories for an entry. Creation
// failures are deliberately non-fatal: only the entry's final file create
// decides whether extraction fails. This preserves the format's lenient
// path-building behavior as a named policy instead of a silent ignore.
func (u *unpacker) ensureDirs(root *os.Root, dir string) {
	if dir == "." || dir == "" {
		return
	}
	if err := root.MkdirAll(dir, 0o755); err != nil {
		u.log().Warn("could not create directory", "dir", dir, "error", err)
	}
}

// archiveSize determines the total size of the archive and restores the
// read position to the start.
func archiveSize(r io.ReadSeeker) (uint64, error) {
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	if end < 0 {
		return 0, ErrSizeOverflow
	}
	return uint64(end), nil
}
