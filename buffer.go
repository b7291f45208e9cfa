package msf

import "github.com/meigma/msf/internal/sizing"

// copySlack is added whenever the shared copy buffer grows, so a run of
// slightly larger files does not reallocate on every entry.
const copySlack = 1 << 20

// copyBuffer is the reusable bulk-copy buffer shared across all entries of
// one pack or unpack operation. It only ever grows, to the largest entry
// seen so far plus copySlack.
type copyBuffer struct {
	buf []byte
}

// grab returns a slice of exactly length bytes, growing the buffer if needed.
func (b *copyBuffer) grab(length uint64) ([]byte, error) {
	n, err := sizing.ToInt(length, ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	if n > len(b.buf) {
		grown := n + copySlack
		if grown < n {
			grown = n
		}
		b.buf = make([]byte, grown)
	}
	return b.buf[:n], nil
}
