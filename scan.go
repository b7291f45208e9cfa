package msf

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
)

// scannedFile pairs a table entry with the walk path it came from. The two
// differ when the relative path is longer than MaxNameLen: the entry name
// is truncated to what the table can store, while src still reaches the
// file on disk.
type scannedFile struct {
	entry Entry
	src   string
}

// scan walks the tree under root and returns one record per regular file,
// in walk order. Offsets are left unset; Pack assigns them after the table
// size is known.
//
// Dot-prefixed names are skipped at every level: files are ignored and
// directories are not descended into. Non-regular files (symlinks,
// devices) are skipped as well. Any directory read or stat failure aborts
// the scan.
func scan(root *os.Root, onFile func(name string, truncated bool)) ([]scannedFile, error) {
	files := make([]scannedFile, 0, 64)

	err := fs.WalkDir(root.FS(), ".", func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == "." {
			return nil
		}
		if strings.HasPrefix(path.Base(p), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if info.Size() < 0 {
			return fmt.Errorf("negative file size: %s", p)
		}

		name, truncated := truncateName(p)
		if onFile != nil {
			onFile(name, truncated)
		}
		files = append(files, scannedFile{
			entry: Entry{Name: name, Length: uint64(info.Size())},
			src:   p,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
