package msf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
)

// writeHeader writes the magic bytes and the big-endian file count.
func writeHeader(w io.Writer, count uint32) error {
	var buf [headerSize]byte
	copy(buf[:8], magic[:])
	binary.BigEndian.PutUint32(buf[8:], count)
	_, err := w.Write(buf[:])
	return err
}

// readHeader reads the fixed header and returns the file count.
// Returns ErrBadMagic if the first 8 bytes are not the MSF magic.
func readHeader(r io.Reader) (uint32, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	if !bytes.Equal(buf[:8], magic[:]) {
		return 0, ErrBadMagic
	}
	return binary.BigEndian.Uint32(buf[8:]), nil
}

// writeEntry encodes a single table record. The entry's offset and length
// must fit in uint32 and its name must already be within MaxNameLen;
// violations are codec bugs or overflow conditions, never silent wraps.
func writeEntry(w io.Writer, e Entry) error {
	if e.Offset > math.MaxUint32 || e.Length > math.MaxUint32 {
		return fmt.Errorf("entry %s: %w", e.Name, ErrSizeOverflow)
	}
	if len(e.Name) > MaxNameLen {
		return fmt.Errorf("entry name %d bytes, limit %d: %w", len(e.Name), MaxNameLen, ErrSizeOverflow)
	}

	buf := make([]byte, 0, e.wireSize())
	buf = binary.BigEndian.AppendUint32(buf, uint32(e.Offset))
	buf = binary.BigEndian.AppendUint32(buf, uint32(e.Length))
	buf = append(buf, byte(len(e.Name)))
	buf = append(buf, e.Name...)
	_, err := w.Write(buf)
	return err
}

// readEntry decodes a single table record.
//
// A name length over MaxNameLen is clamped with a warning instead of
// failing, keeping unpack best-effort. The field is one byte today, so the
// branch guards a future widening of the wire field rather than reachable
// input.
func readEntry(r io.Reader, logger *slog.Logger, index int) (Entry, error) {
	var fixed [entryFixedSize]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return Entry{}, fmt.Errorf("read table entry %d: %w", index, err)
	}

	nameLen := int(fixed[8])
	if nameLen > MaxNameLen {
		logger.Warn("entry name length over limit, clamping",
			"entry", index, "name_length", nameLen, "limit", MaxNameLen)
		nameLen = MaxNameLen
	}

	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return Entry{}, fmt.Errorf("read table entry %d name: %w", index, err)
	}

	return Entry{
		Name:   string(name),
		Offset: uint64(binary.BigEndian.Uint32(fixed[0:4])),
		Length: uint64(binary.BigEndian.Uint32(fixed[4:8])),
	}, nil
}

// readTable reads count records into memory. The whole table is consumed
// before any data bytes, so extraction can seek freely afterwards.
// The initial capacity is capped so a corrupt count cannot force a huge
// allocation before the short read is detected.
func readTable(r io.Reader, count uint32, logger *slog.Logger) (Table, error) {
	table := make(Table, 0, min(count, 4096))
	for i := uint32(0); i < count; i++ {
		e, err := readEntry(r, logger, int(i))
		if err != nil {
			return nil, err
		}
		table = append(table, e)
	}
	return table, nil
}
