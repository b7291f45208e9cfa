package msf

import "errors"

// Format constants.
const (
	// MaxNameLen is the longest entry name the table can carry. The
	// on-disk name length field is a single byte.
	MaxNameLen = 255

	// headerSize is the fixed header: 8 magic bytes + uint32 file count.
	headerSize = 12

	// entryFixedSize is the fixed part of a table record:
	// uint32 offset + uint32 length + uint8 name length.
	entryFixedSize = 9
)

// magic identifies an MSF archive. The first 8 bytes of every archive
// must match it exactly.
var magic = [8]byte{0x00, 0x00, 0x03, 0xE7, 0x00, 0x00, 0x00, 0x02}

// Sentinel errors.
var (
	// ErrBadMagic is returned when the first 8 bytes of an archive do not
	// match the MSF magic.
	ErrBadMagic = errors.New("msf: invalid archive magic")

	// ErrEntryBounds is returned when an entry's data range extends past
	// the end of the archive.
	ErrEntryBounds = errors.New("msf: entry exceeds archive bounds")

	// ErrSizeOverflow is returned when byte counts exceed what the format
	// or the host can represent.
	ErrSizeOverflow = errors.New("msf: size overflow")
)

// Entry describes one archived file.
type Entry struct {
	// Name is the file path relative to the archive root, using forward
	// slashes. At most MaxNameLen bytes on disk.
	Name string

	// Offset is the byte position of the file's data, measured from the
	// start of the archive. Stored as uint32 on disk; kept 64-bit in
	// memory so offset arithmetic cannot wrap while packing.
	Offset uint64

	// Length is the byte length of the file's data.
	Length uint64
}

// Table is the ordered sequence of entries stored immediately after the
// header. Data blocks follow in the same order, contiguous and
// non-overlapping.
type Table []Entry

// wireSize returns the encoded size of a single table record.
func (e Entry) wireSize() uint64 {
	return entryFixedSize + uint64(len(e.Name))
}

// DataStart returns the archive offset of the first data byte: the header
// plus the encoded size of every table record.
func (t Table) DataStart() uint64 {
	n := uint64(headerSize)
	for _, e := range t {
		n += e.wireSize()
	}
	return n
}
