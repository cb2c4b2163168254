package zcstream

import "encoding/binary"

// addUint32 adds delta to a little-endian uint32 field stored in b,
// propagating the borrow/carry through all 4 bytes. Used for the
// compressed-size adjustments (+12 on encrypt, -12 on decrypt) that
// must be applied to bytes already captured in a fixed-size array
// rather than to a Go integer.
func addUint32(b []byte, delta int64) {
	v := int64(binary.LittleEndian.Uint32(b)) + delta
	binary.LittleEndian.PutUint32(b, uint32(v))
}
