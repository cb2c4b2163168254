package zcstream

// defaultRowSize is the row width spec.md prescribes (65536 bytes) for
// buffering a file whose compressed size isn't known until its data
// descriptor arrives. Grounded on multireadseeker.go's offset-indexed
// part list, generalized here into a growable, append-only byte store
// instead of a fixed set of pre-sized parts.
const defaultRowSize = 65536

// rowBuffer is an append-only byte buffer stored as fixed-size rows,
// so that buffering a large deferred-size payload doesn't require
// repeatedly reallocating and copying one giant contiguous slice.
type rowBuffer struct {
	rowSize int
	rows    [][]byte
	length  int
}

// newRowBuffer returns an empty buffer using rowSize-byte rows. A
// rowSize <= 0 falls back to defaultRowSize.
func newRowBuffer(rowSize int) *rowBuffer {
	if rowSize <= 0 {
		rowSize = defaultRowSize
	}
	return &rowBuffer{rowSize: rowSize}
}

// Len reports the number of bytes appended so far.
func (b *rowBuffer) Len() int { return b.length }

// WriteByte appends a single byte, growing the row list as needed.
func (b *rowBuffer) WriteByte(c byte) {
	row := b.length / b.rowSize
	if row == len(b.rows) {
		b.rows = append(b.rows, make([]byte, 0, b.rowSize))
	}
	b.rows[row] = append(b.rows[row], c)
	b.length++
}

// At returns the byte at position i, which must be < Len().
func (b *rowBuffer) At(i int) byte {
	return b.rows[i/b.rowSize][i%b.rowSize]
}

// Slice copies the half-open range [start, end) into a freshly
// allocated slice. The encrypter uses it for the name/extra lengths,
// the name/extra bytes, and the whole payload-plus-data-descriptor
// tail of a deferred-size file, so that tail is copied contiguously.
func (b *rowBuffer) Slice(start, end int) []byte {
	out := make([]byte, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, b.At(i))
	}
	return out
}

// PutAt overwrites the byte at position i in place.
func (b *rowBuffer) PutAt(i int, c byte) {
	b.rows[i/b.rowSize][i%b.rowSize] = c
}

// Reset discards all buffered content, allowing the rowBuffer to be
// reused for the next deferred-size file without reallocating its row
// slice backing array.
func (b *rowBuffer) Reset() {
	b.rows = b.rows[:0]
	b.length = 0
}

// Each calls fn with every buffered byte in order.
func (b *rowBuffer) Each(fn func(c byte)) {
	for i := 0; i < b.length; i++ {
		fn(b.At(i))
	}
}
