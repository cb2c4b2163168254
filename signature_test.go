package zcstream

import "testing"

func TestClassifySignature(t *testing.T) {
	cases := []struct {
		word uint32
		ok   bool
	}{
		{sigLocalFileHeader, true},
		{sigCentralFileHeader, true},
		{sigEndOfCentralDir, true},
		{sigDataDescriptor, true},
		{0x12345678, false},
	}
	for _, c := range cases {
		_, ok := classifySignature(c.word)
		if ok != c.ok {
			t.Errorf("classifySignature(%#x) ok = %v, want %v", c.word, ok, c.ok)
		}
	}
}

func TestClassifySignatureNeverMatchesAPrefix(t *testing.T) {
	// The low 3 bytes of the LFH signature alone must not classify as
	// anything; only a full 4-byte match counts.
	partial := sigLocalFileHeader & 0x00ffffff
	if _, ok := classifySignature(partial); ok {
		t.Fatalf("a 3-byte partial signature incorrectly matched")
	}
}

func TestSigScannerFindsExactBoundaryMatch(t *testing.T) {
	s := newSigScanner()
	var sig [4]byte
	putLE32(sig[:], sigCentralFileHeader)

	var matched uint32
	var ok bool
	for _, b := range sig {
		_, _, matched, ok = s.feed(b)
	}
	if !ok || matched != sigCentralFileHeader {
		t.Fatalf("scanner failed to recognize a signature fed as the first 4 bytes")
	}
}

func TestSigScannerSlidesAndEvicts(t *testing.T) {
	s := newSigScanner()
	input := append([]byte("xx"), func() []byte {
		var b [4]byte
		putLE32(b[:], sigLocalFileHeader)
		return b[:]
	}()...)

	var evictedTotal []byte
	var matched uint32
	var ok bool
	for _, b := range input {
		var evicted byte
		var have bool
		evicted, have, matched, ok = s.feed(b)
		if have {
			evictedTotal = append(evictedTotal, evicted)
		}
	}
	if !ok || matched != sigLocalFileHeader {
		t.Fatalf("scanner did not find the LFH signature sliding past 2 leading bytes")
	}
	if string(evictedTotal) != "xx" {
		t.Fatalf("scanner evicted %q, want the 2 leading bytes", evictedTotal)
	}
}

func TestSigScannerNoFalseMatchOnGarbage(t *testing.T) {
	s := newSigScanner()
	for _, b := range []byte("not a zip record at all, just text") {
		if _, _, _, ok := s.feed(b); ok {
			t.Fatalf("scanner falsely matched inside plain text")
		}
	}
}
