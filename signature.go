package zcstream

import "encoding/binary"

// Record signatures, little-endian 4-byte magic numbers that introduce
// each ZIP record this package understands. Values are defined by the
// ZIP specification (PKWARE APPNOTE.TXT), not invented here.
const (
	sigLocalFileHeader  uint32 = 0x04034b50 // LFH
	sigCentralFileHeader uint32 = 0x02014b50 // CFH
	sigEndOfCentralDir   uint32 = 0x06054b50 // ECD
	sigDataDescriptor    uint32 = 0x08074b50 // DD
)

const (
	localFileHeaderLen  = 30 // up to and including extra-field-length
	centralFileHeaderLen = 46
	endOfCentralDirLen   = 22
	dataDescriptorLen    = 16 // signature + crc32 + compressed size + uncompressed size
	encryptionHeaderLen  = 12
)

// classifySignature reports which record kind a 4-byte little-endian
// word names, or ok=false if it doesn't match any signature this
// package recognizes. Matching never accepts a partial (prefix) match:
// the caller always hands classifySignature a full 4 bytes.
func classifySignature(word uint32) (kind uint32, ok bool) {
	switch word {
	case sigLocalFileHeader, sigCentralFileHeader, sigEndOfCentralDir, sigDataDescriptor:
		return word, true
	default:
		return 0, false
	}
}

// le32 reads a little-endian uint32 from the first 4 bytes of b.
func le32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// putLE32 writes v as little-endian into the first 4 bytes of b.
func putLE32(b []byte, v uint32) {
	binary.LittleEndian.PutUint32(b, v)
}

// le16 reads a little-endian uint16 from the first 2 bytes of b.
func le16(b []byte) uint16 {
	return binary.LittleEndian.Uint16(b)
}

// putLE16 writes v as little-endian into the first 2 bytes of b.
func putLE16(b []byte, v uint16) {
	binary.LittleEndian.PutUint16(b, v)
}

// sigScanner implements the "scan until one of N signatures" mode used
// by the encrypter to find the next record boundary after a file whose
// size was only known from its data descriptor: bytes are fed one at a
// time into a 4-byte sliding window, which is compared against the
// candidate signatures on every byte.
type sigScanner struct {
	window [4]byte
	filled int
}

// newSigScanner returns a scanner; the candidates are fixed to the set
// classifySignature recognizes (LFH, CFH, ECD, DD), so no candidate
// list needs to be stored here. The encrypter acts only on LFH and CFH
// matches.
func newSigScanner() *sigScanner {
	return &sigScanner{}
}

// reset clears the scanner's progress for reuse across files.
func (s *sigScanner) reset() {
	s.window = [4]byte{}
	s.filled = 0
}

// feed shifts b into the sliding window and reports whether the window
// now equals one of the recognized record signatures. Once the window
// is full, every new byte evicts the oldest buffered byte; feed returns
// it (evicted, haveEvicted=true) so the caller can commit it to its own
// buffer before finding out whether the new window matches a boundary.
func (s *sigScanner) feed(b byte) (evicted byte, haveEvicted bool, matched uint32, ok bool) {
	if s.filled < 4 {
		s.window[s.filled] = b
		s.filled++
		if s.filled == 4 {
			matched, ok = classifySignature(le32(s.window[:]))
		}
		return 0, false, matched, ok
	}
	evicted = s.window[0]
	s.window[0], s.window[1], s.window[2], s.window[3] = s.window[1], s.window[2], s.window[3], b
	matched, ok = classifySignature(le32(s.window[:]))
	return evicted, true, matched, ok
}

// bytes returns the 4 bytes currently held in the window, valid once
// filled is 4.
func (s *sigScanner) bytes() [4]byte {
	return s.window
}
