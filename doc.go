// Package msf implements the MSF flat archive format.
//
// An MSF archive serializes a directory tree into a single file:
//   - Header: 8 magic bytes followed by a big-endian uint32 file count
//   - Table: one record per file (offset, length, length-prefixed name)
//   - Data: the raw file contents concatenated in table order
//
// All multi-byte integers are big-endian regardless of host byte order.
// Names are relative slash-separated paths of at most 255 bytes; the limit
// comes from the single-byte name length field and longer names are
// truncated rather than rejected.
//
// Pack and Unpack are the two symmetric pipelines. Pack walks a directory,
// builds the table, and writes header, table, and data sequentially.
// Unpack reads the whole table up front, then extracts each entry to the
// destination directory. Both are strictly sequential; an Archive opened
// with Open additionally provides random access and implements fs.FS and
// related interfaces for stdlib compatibility.
package msf
