package zcstream_test

import (
	"bytes"
	"io"
	"testing"

	"go4.org/readerutil"

	"github.com/dkranzer/zcstream"
)

// repeatedByteReaderAt is a zero-allocation io.ReaderAt that reads as
// though from a run of size copies of one repeated byte, used to compose
// a large synthetic payload without holding it all in memory.
type repeatedByteReaderAt struct {
	b    byte
	size int64
}

func (r repeatedByteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.size {
		return 0, io.EOF
	}
	n := len(p)
	if int64(n) > r.size-off {
		n = int(r.size - off)
	}
	for i := 0; i < n; i++ {
		p[i] = r.b
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r repeatedByteReaderAt) Size() int64 { return r.size }

// buildLargeDeferredArchive assembles a one-entry archive whose entry
// defers its sizes to a data descriptor (flag bit 3), around a large run
// of repeated content, followed by the central directory whose header
// signature ends the encrypter's buffering of that entry. The pieces are
// composed through a readerutil.MultiReaderAt rather than materializing
// the whole archive as a single byte slice — the same technique the
// teacher package used to exercise multi-megabyte archives in its own
// tests.
func buildLargeDeferredArchive(t *testing.T, name string, size int64) io.Reader {
	t.Helper()
	var header [30]byte
	putLE32Test(header[0:4], 0x04034b50)
	putLE16Test(header[4:6], 20)
	putLE16Test(header[6:8], 0x8) // sizes deferred to the data descriptor
	putLE16Test(header[8:10], 0)
	putLE16Test(header[10:12], 0)
	putLE16Test(header[12:14], 0)
	putLE32Test(header[14:18], 0)
	putLE32Test(header[18:22], 0)
	putLE32Test(header[22:26], 0)
	putLE16Test(header[26:28], uint16(len(name)))
	putLE16Test(header[28:30], 0)

	var dd [16]byte
	putLE32Test(dd[0:4], 0x08074b50)
	putLE32Test(dd[4:8], 0) // CRC not checked by this package
	putLE32Test(dd[8:12], uint32(size))
	putLE32Test(dd[12:16], uint32(size))

	var cfh [46]byte
	putLE32Test(cfh[0:4], 0x02014b50)
	putLE16Test(cfh[4:6], 20)
	putLE16Test(cfh[6:8], 20)
	putLE16Test(cfh[8:10], 0x8)
	putLE32Test(cfh[20:24], uint32(size))
	putLE32Test(cfh[24:28], uint32(size))
	putLE16Test(cfh[28:30], uint16(len(name)))

	var ecd [22]byte
	putLE32Test(ecd[0:4], 0x06054b50)
	putLE16Test(ecd[8:10], 1)
	putLE16Test(ecd[10:12], 1)
	putLE32Test(ecd[12:16], uint32(len(cfh)+len(name)))
	putLE32Test(ecd[16:20], uint32(len(header)+len(name)+int(size)+len(dd)))

	parts := []readerutil.SizeReaderAt{
		bytes.NewReader(header[:]),
		bytes.NewReader([]byte(name)),
		repeatedByteReaderAt{b: 'A', size: size},
		bytes.NewReader(dd[:]),
		bytes.NewReader(cfh[:]),
		bytes.NewReader([]byte(name)),
		bytes.NewReader(ecd[:]),
	}
	multi := readerutil.NewMultiReaderAt(parts...)
	return io.NewSectionReader(multi, 0, multi.Size())
}

func putLE16Test(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putLE32Test(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// TestEncrypterHandlesPayloadSpanningMultipleBufferRows feeds a deferred-
// size payload large enough to span several of the row buffer's internal
// rows through the encrypter via plain io.Copy, confirming the byte-at-a-
// time state machine doesn't assume any bound on a single file's size.
func TestEncrypterHandlesPayloadSpanningMultipleBufferRows(t *testing.T) {
	const size = 200 * 1024 // several times the default 64KiB row size
	src := buildLargeDeferredArchive(t, "large.bin", size)

	var out bytes.Buffer
	enc := zcstream.NewEncrypter(&out, []byte("pw"), zcstream.EncrypterOptions{})
	if _, err := io.Copy(enc, src); err != nil {
		t.Fatalf("io.Copy into encrypter: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	dec := zcstream.NewDecrypter(bytes.NewReader(out.Bytes()), []byte("pw"), zcstream.DecrypterOptions{})
	defer dec.Close()
	got, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	// The encrypter drops the data descriptor; the central file header
	// (46 bytes plus name) and the 22-byte end record follow the payload.
	prefix := 30 + len("large.bin")
	want := prefix + size + 46 + len("large.bin") + 22
	if len(got) != want {
		t.Fatalf("decrypted length = %d, want %d", len(got), want)
	}
	payload := got[prefix : prefix+size]
	for i, b := range payload {
		if b != 'A' {
			t.Fatalf("payload byte %d = %q, want 'A'", i, b)
		}
	}
}
