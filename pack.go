package msf

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
)

// Pack serializes the directory tree under dir into an MSF archive written
// to w.
//
// The tree is scanned first; offsets are then assigned sequentially after
// the header and table, and header, table, and file contents are written
// in one forward pass. Dot-prefixed files and directories are excluded.
// Names longer than MaxNameLen bytes are truncated with a warning; if two
// names collide after truncation both are still written and the later one
// wins on unpack.
//
// A tree containing zero regular files produces a degenerate archive with
// a file count of zero.
//
// Any open, stat, read, or write failure aborts the whole operation and
// leaves w in an indeterminate state; no rollback is attempted.
func Pack(ctx context.Context, dir string, w io.Writer, opts ...PackOption) error {
	cfg := packConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	p := &packer{cfg: cfg}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return fmt.Errorf("open directory: %w", err)
	}
	defer root.Close()

	p.log().Info("packing directory", "dir", dir)
	p.report(StageScanning, "", 0, 0)

	files, err := p.scanTree(root)
	if err != nil {
		return err
	}

	table := make(Table, len(files))
	for i, sf := range files {
		table[i] = sf.entry
	}
	datastart := table.DataStart()
	if err := assignOffsets(table, datastart); err != nil {
		return err
	}

	cw := &countingWriter{w: w}
	if err := writeHeader(cw, uint32(len(table))); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, e := range table {
		if err := writeEntry(cw, e); err != nil {
			return fmt.Errorf("write table: %w", err)
		}
	}

	// Writer position and computed datastart must agree here, or the
	// table codec and the size accounting have diverged.
	if cw.n != datastart {
		return fmt.Errorf("msf: table ends at %d, computed datastart %d", cw.n, datastart)
	}

	var buf copyBuffer
	for i, sf := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.report(StagePacking, table[i].Name, i, len(table))
		if err := p.writeFileData(root, cw, &buf, sf, table[i].Length); err != nil {
			return err
		}
	}

	p.log().Debug("archive written", "file_count", len(table), "size", cw.n)
	return nil
}

// PackFile is a convenience wrapper that creates (or truncates)
// archivePath and packs dir into it.
//
// On failure the partially written archive is left on disk, matching
// Pack's no-rollback contract.
func PackFile(ctx context.Context, dir, archivePath string, opts ...PackOption) error {
	f, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	if err := Pack(ctx, dir, f, opts...); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// packer holds state for archive creation.
type packer struct {
	cfg packConfig
}

// log returns the logger, falling back to a discard logger if nil.
func (p *packer) log() *slog.Logger {
	if p.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.cfg.logger
}

// report sends a progress event if a callback is configured.
func (p *packer) report(stage ProgressStage, path string, filesDone, filesTotal int) {
	if p.cfg.progress == nil {
		return
	}
	p.cfg.progress(ProgressEvent{
		Stage:      stage,
		Path:       path,
		FilesDone:  filesDone,
		FilesTotal: filesTotal,
	})
}

// scanTree runs the scanner and logs truncations and the name collisions
// they can cause. Collisions are not fatal; the format cannot distinguish
// the entries and unpack resolves them last-writer-wins.
func (p *packer) scanTree(root *os.Root) ([]scannedFile, error) {
	seen := make(map[string]struct{})
	files, err := scan(root, func(name string, truncated bool) {
		if truncated {
			p.log().Warn("name truncated to table limit", "name", name, "limit", MaxNameLen)
		}
		if _, dup := seen[name]; dup {
			p.log().Warn("duplicate entry name, later data wins on unpack", "name", name)
		}
		seen[name] = struct{}{}
	})
	if err != nil {
		return nil, fmt.Errorf("scan directory: %w", err)
	}
	return files, nil
}

// assignOffsets fills in each entry's offset sequentially from datastart,
// in table order. Arithmetic is 64-bit; any offset that no longer fits the
// on-disk uint32 field fails instead of wrapping.
func assignOffsets(t Table, datastart uint64) error {
	ofs := datastart
	for i := range t {
		if ofs > math.MaxUint32 {
			return fmt.Errorf("offset for %s: %w", t[i].Name, ErrSizeOverflow)
		}
		t[i].Offset = ofs
		ofs += t[i].Length
	}
	return nil
}

// writeFileData copies one file's contents into the archive through the
// shared buffer. The file is reopened by its source path, read in full,
// and must still hold exactly the length recorded at scan time.
func (p *packer) writeFileData(root *os.Root, w io.Writer, buf *copyBuffer, sf scannedFile, length uint64) error {
	b, err := buf.grab(length)
	if err != nil {
		return err
	}

	f, err := root.Open(filepath.FromSlash(sf.src))
	if err != nil {
		return fmt.Errorf("open %s: %w", sf.src, err)
	}
	_, err = io.ReadFull(f, b)
	f.Close()
	if err != nil {
		return fmt.Errorf("read %s: %w", sf.src, err)
	}

	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("write %s: %w", sf.entry.Name, err)
	}
	return nil
}

// countingWriter wraps a writer and counts bytes written.
type countingWriter struct {
	w io.Writer
	n uint64
}

// Write implements io.Writer.
func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	if n > 0 {
		cw.n += uint64(n)
	}
	return n, err
}
