package zcstream

import (
	"crypto/rand"
	"io"

	"github.com/dkranzer/zcstream/tracelog"
	"github.com/dkranzer/zcstream/zcerr"
)

// EncrypterOptions configures an Encrypter. The zero value is the
// default configuration.
type EncrypterOptions struct {
	// RowSize sets the row width used to buffer a file whose size is
	// only known from its trailing data descriptor. Zero selects
	// defaultRowSize (65536, as prescribed).
	RowSize int
}

type encryptStateFn func(*Encrypter) encryptStateFn

// Encrypter turns a plain ZIP archive, written one byte at a time, into
// a ZipCrypto-protected one. It never seeks: local header offsets and
// the central directory's start offset are fixed up using running
// counters instead, and a file whose size isn't known until its data
// descriptor arrives is buffered just long enough to learn that size.
type Encrypter struct {
	w    io.Writer
	opts EncrypterOptions

	passwordKeys keys
	payload      *cipher

	state encryptStateFn
	in    []byte // input bytes pushed by WriteByte, not yet consumed

	flags              uint16
	deferred           bool
	fnLen, extraLen    uint16
	crc                [4]byte
	payloadRemaining   int64
	currentLocalOffset uint32

	localHeaderOffsets []uint32
	crcAndSize         [][12]byte
	fileIndex          int
	cfhSeen            bool
	centralDirOffset   uint32

	pendingCFHTrailer int
	pendingECDComment int
	capturingDeferred bool

	buf  *rowBuffer
	scan *sigScanner

	bytesWritten uint32
	err          error
	closed       bool
	sink         io.Writer
}

// NewEncrypter returns an Encrypter writing the ZipCrypto-protected
// archive to w. password is copied into the key schedule immediately;
// the caller may zero its own buffer afterwards.
func NewEncrypter(w io.Writer, password []byte, opts EncrypterOptions) *Encrypter {
	e := &Encrypter{
		w:            w,
		opts:         opts,
		passwordKeys: initFromPassword(password),
		buf:          newRowBuffer(opts.RowSize),
		scan:         newSigScanner(),
		sink:         w,
	}
	e.state = (*Encrypter).stSignature
	return e
}

// WriteByte feeds one input byte into the state machine, writing
// whatever output that byte completes to the sink.
func (e *Encrypter) WriteByte(b byte) error {
	if e.closed {
		return zcerr.ErrClosed
	}
	if e.err != nil {
		return e.err
	}
	e.in = append(e.in, b)
	e.pump()
	return e.err
}

// Write feeds p one byte at a time.
func (e *Encrypter) Write(p []byte) (int, error) {
	for i, b := range p {
		if err := e.WriteByte(b); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// pump advances the state machine as far as the currently buffered
// input allows, stopping when a state needs more bytes than are
// available or when an error has been recorded.
func (e *Encrypter) pump() {
	for e.err == nil {
		next := e.state(e)
		if next == nil {
			return
		}
		e.state = next
	}
}

// Close flushes as much as the buffered input allows and releases the
// sink exactly once. An archive left mid-record (a field only
// partially received, or a payload still owed bytes) is reported as
// malformed rather than silently truncated.
func (e *Encrypter) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	incomplete := len(e.in) > 0 || e.payloadRemaining > 0 || e.capturingDeferred ||
		e.pendingCFHTrailer > 0 || e.pendingECDComment > 0
	if e.err == nil && incomplete {
		e.err = zcerr.Wrap("close", int64(e.bytesWritten), zcerr.ErrMalformedArchive)
	}
	if c, ok := e.sink.(io.Closer); ok {
		if cerr := c.Close(); e.err == nil {
			e.err = cerr
		}
	}
	if e.err != nil && e.err != io.EOF {
		return e.err
	}
	return nil
}

func (e *Encrypter) fail(op string, err error) encryptStateFn {
	e.err = zcerr.Wrap(op, int64(e.bytesWritten), err)
	return nil
}

// take returns and removes the first n bytes of pending input, or
// ok=false if fewer than n are currently buffered.
func (e *Encrypter) take(n int) (buf []byte, ok bool) {
	if len(e.in) < n {
		return nil, false
	}
	buf = e.in[:n]
	e.in = e.in[n:]
	return buf, true
}

// peek4 reports the first 4 pending bytes without consuming them.
func (e *Encrypter) peek4() (buf [4]byte, ok bool) {
	if len(e.in) < 4 {
		return buf, false
	}
	copy(buf[:], e.in[:4])
	return buf, true
}

func (e *Encrypter) pushFront(b []byte) {
	fresh := make([]byte, 0, len(b)+len(e.in))
	fresh = append(fresh, b...)
	fresh = append(fresh, e.in...)
	e.in = fresh
}

// emit writes p to the sink, tracking the authoritative byte-offset
// counter used for every fixup in this package.
func (e *Encrypter) emit(p []byte) {
	if len(p) == 0 {
		return
	}
	n, err := e.w.Write(p)
	e.bytesWritten += uint32(n)
	if err != nil {
		e.err = err
	}
}

func (e *Encrypter) stSignature() encryptStateFn {
	sig, ok := e.peek4()
	if !ok {
		return nil
	}
	switch le32(sig[:]) {
	case sigLocalFileHeader:
		e.localHeaderOffsets = append(e.localHeaderOffsets, e.bytesWritten)
		e.currentLocalOffset = e.bytesWritten
		return (*Encrypter).stLFHFixed
	case sigCentralFileHeader:
		if !e.cfhSeen {
			e.cfhSeen = true
			e.centralDirOffset = e.bytesWritten
		}
		return (*Encrypter).stCFH
	case sigEndOfCentralDir:
		return (*Encrypter).stECD
	default:
		return e.fail("signature", zcerr.ErrMalformedArchive)
	}
}

// stLFHFixed consumes the fixed-width span of the local file header
// through the general-purpose flags, common to both sub-paths.
func (e *Encrypter) stLFHFixed() encryptStateFn {
	hdr, ok := e.take(8) // signature(4) + version needed(2) + flags(2)
	if !ok {
		return nil
	}
	tracelog.Debug("encrypt: local file header", "offset", e.currentLocalOffset)
	e.emit(hdr[:4])
	e.emit(hdr[4:6])

	flags := le16(hdr[6:8])
	if flags&0x1 != 0 {
		return e.fail("flags", zcerr.ErrAlreadyEncrypted)
	}
	if flags&0x40 != 0 {
		return e.fail("flags", zcerr.ErrStrongEncryptionUnsupported)
	}
	e.flags = (flags &^ 0x8) | 0x1
	e.deferred = flags&0x8 != 0

	var out [2]byte
	putLE16(out[:], e.flags)
	e.emit(out[:])

	methodTimeDate, ok := e.take(6)
	if !ok {
		// flags already emitted; stash nothing else, resume here.
		return (*Encrypter).stLFHMethodTimeDate
	}
	e.emit(methodTimeDate)
	if e.deferred {
		return (*Encrypter).stLFHDeferredPlaceholder
	}
	return (*Encrypter).stLFHSizes
}

// stLFHMethodTimeDate resumes stLFHFixed's tail when the 6 method/time/
// date bytes weren't all available on the first attempt.
func (e *Encrypter) stLFHMethodTimeDate() encryptStateFn {
	methodTimeDate, ok := e.take(6)
	if !ok {
		return nil
	}
	e.emit(methodTimeDate)
	if e.deferred {
		return (*Encrypter).stLFHDeferredPlaceholder
	}
	return (*Encrypter).stLFHSizes
}

// stLFHSizes handles the sizes-known-up-front sub-path: read CRC,
// compressed size and uncompressed size, rewrite the compressed size,
// and remember the triple for this file's central directory entry.
func (e *Encrypter) stLFHSizes() encryptStateFn {
	sizes, ok := e.take(12)
	if !ok {
		return nil
	}
	var crc, csize, usize [4]byte
	copy(crc[:], sizes[0:4])
	copy(csize[:], sizes[4:8])
	copy(usize[:], sizes[8:12])
	addUint32(csize[:], encryptionHeaderLen)
	e.payloadRemaining = int64(le32(sizes[4:8]))

	e.emit(crc[:])
	e.emit(csize[:])
	e.emit(usize[:])

	var triple [12]byte
	copy(triple[0:4], crc[:])
	copy(triple[4:8], csize[:])
	copy(triple[8:12], usize[:])
	e.crcAndSize = append(e.crcAndSize, triple)
	e.crc = crc
	return (*Encrypter).stLFHNameLen
}

func (e *Encrypter) stLFHNameLen() encryptStateFn {
	lens, ok := e.take(4)
	if !ok {
		return nil
	}
	e.fnLen = le16(lens[0:2])
	e.extraLen = le16(lens[2:4])
	e.emit(lens)
	if e.fnLen == 0 {
		return e.fail("file name length", zcerr.ErrMalformedArchive)
	}
	return (*Encrypter).stLFHNameExtra
}

func (e *Encrypter) stLFHNameExtra() encryptStateFn {
	n := int(e.fnLen) + int(e.extraLen)
	nameExtra, ok := e.take(n)
	if !ok {
		return nil
	}
	e.emit(nameExtra)
	return (*Encrypter).stEncryptionHeader
}

// stEncryptionHeader synthesizes and emits the 12-byte encryption
// header for the file now starting: 10 cryptographically random bytes
// plus a 2-byte check value drawn from the file's CRC, all encrypted
// under working keys freshly reseeded from the password keys.
func (e *Encrypter) stEncryptionHeader() encryptStateFn {
	var header [12]byte
	if _, err := rand.Read(header[:10]); err != nil {
		return e.fail("encryption header", err)
	}
	header[10] = e.crc[2]
	header[11] = e.crc[3]

	e.payload = newCipher(e.passwordKeys)
	for i, b := range header {
		header[i] = e.payload.encryptByte(b)
	}
	e.emit(header[:])

	if e.payloadRemaining == 0 {
		return (*Encrypter).stSignature
	}
	return (*Encrypter).stPayload
}

func (e *Encrypter) stPayload() encryptStateFn {
	for e.payloadRemaining > 0 {
		b, ok := e.take(1)
		if !ok {
			return nil
		}
		e.emit([]byte{e.payload.encryptByte(b[0])})
		e.payloadRemaining--
	}
	return (*Encrypter).stSignature
}

// stLFHDeferredPlaceholder discards the meaningless zero crc/csize/
// usize placeholder a deferred-size LFH carries (the real values only
// exist in the trailing data descriptor), then begins buffering.
func (e *Encrypter) stLFHDeferredPlaceholder() encryptStateFn {
	if _, ok := e.take(12); !ok {
		return nil
	}
	e.buf.Reset()
	e.scan.reset()
	e.capturingDeferred = true
	return (*Encrypter).stCaptureDeferred
}

// stCaptureDeferred buffers file-name, extra field, payload and data
// descriptor one byte at a time until the next LFH or CFH signature is
// recognized, at which point the boundary bytes are pushed back for
// stSignature to reprocess and the captured segment is flushed.
func (e *Encrypter) stCaptureDeferred() encryptStateFn {
	for {
		b, ok := e.take(1)
		if !ok {
			return nil
		}
		evicted, haveEvicted, matched, matchOK := e.scan.feed(b[0])
		if haveEvicted {
			e.buf.WriteByte(evicted)
		}
		if matchOK && (matched == sigLocalFileHeader || matched == sigCentralFileHeader) {
			boundary := e.scan.bytes()
			e.pushFront(boundary[:])
			e.capturingDeferred = false
			return e.flushDeferred()
		}
	}
}

// flushDeferred emits the reconstructed LFH tail (sizes, fnlen/extralen,
// name, extra), the encryption header, and the encrypted payload for a
// file whose
// size was only known from its data descriptor, then drops that data
// descriptor from the output entirely (invariant: bit 3 is always
// clear in this package's encrypted output, so no reader will ever go
// looking for one).
func (e *Encrypter) flushDeferred() encryptStateFn {
	total := e.buf.Len()
	if total < 16 {
		return e.fail("data descriptor", zcerr.ErrMalformedArchive)
	}
	fnLen := int(le16(e.buf.Slice(0, 2)))
	extraLen := int(le16(e.buf.Slice(2, 4)))
	if fnLen == 0 {
		return e.fail("file name length", zcerr.ErrMalformedArchive)
	}
	nameExtraEnd := 4 + fnLen + extraLen
	if nameExtraEnd+12 > total {
		return e.fail("data descriptor", zcerr.ErrMalformedArchive)
	}

	tail := e.buf.Slice(nameExtraEnd, total)
	triple := tail[len(tail)-12:]
	payloadEnd := len(tail) - 12
	if len(tail) >= 16 {
		maybeSig := tail[len(tail)-16 : len(tail)-12]
		if le32(maybeSig) == sigDataDescriptor {
			payloadEnd = len(tail) - 16
		}
	}
	payload := tail[:payloadEnd]

	var crc, csize, usize [4]byte
	copy(crc[:], triple[0:4])
	copy(csize[:], triple[4:8])
	copy(usize[:], triple[8:12])
	addUint32(csize[:], encryptionHeaderLen)
	e.payloadRemaining = int64(len(payload))

	e.emit(crc[:])
	e.emit(csize[:])
	e.emit(usize[:])

	var triple12 [12]byte
	copy(triple12[0:4], crc[:])
	copy(triple12[4:8], csize[:])
	copy(triple12[8:12], usize[:])
	e.crcAndSize = append(e.crcAndSize, triple12)
	e.crc = crc

	e.emit(e.buf.Slice(0, nameExtraEnd))

	var header [12]byte
	if _, err := rand.Read(header[:10]); err != nil {
		return e.fail("encryption header", err)
	}
	header[10] = crc[2]
	header[11] = crc[3]
	e.payload = newCipher(e.passwordKeys)
	for i, b := range header {
		header[i] = e.payload.encryptByte(b)
	}
	e.emit(header[:])

	for _, b := range payload {
		e.emit([]byte{e.payload.encryptByte(b)})
	}
	e.payloadRemaining = 0
	e.buf.Reset()
	return (*Encrypter).stSignature
}

// stCFH rewrites one central file header: flags (bit 0 set, bit 3
// clear), the CRC/size triple recorded when this file's local header
// was processed, and the local header offset recorded at the same
// time.
func (e *Encrypter) stCFH() encryptStateFn {
	hdr, ok := e.take(centralFileHeaderLen)
	if !ok {
		return nil
	}
	if e.fileIndex >= len(e.crcAndSize) || e.fileIndex >= len(e.localHeaderOffsets) {
		return e.fail("central file header", zcerr.ErrMalformedArchive)
	}

	flags := le16(hdr[8:10])
	flags = (flags &^ 0x8) | 0x1
	putLE16(hdr[8:10], flags)

	copy(hdr[16:28], e.crcAndSize[e.fileIndex][:])
	putLE32(hdr[42:46], e.localHeaderOffsets[e.fileIndex])

	fnLen := le16(hdr[28:30])
	extraLen := le16(hdr[30:32])
	commentLen := le16(hdr[32:34])
	e.emit(hdr)
	e.fileIndex++

	n := int(fnLen) + int(extraLen) + int(commentLen)
	return e.stCFHTrailer(n)
}

func (e *Encrypter) stCFHTrailer(n int) encryptStateFn {
	if n == 0 {
		return (*Encrypter).stSignature
	}
	rest, ok := e.take(n)
	if !ok {
		e.pendingCFHTrailer = n
		return (*Encrypter).stCFHTrailerWait
	}
	e.emit(rest)
	return (*Encrypter).stSignature
}

func (e *Encrypter) stCFHTrailerWait() encryptStateFn {
	rest, ok := e.take(e.pendingCFHTrailer)
	if !ok {
		return nil
	}
	e.pendingCFHTrailer = 0
	e.emit(rest)
	return (*Encrypter).stSignature
}

// stECD rewrites the central directory's start offset and passes the
// trailing archive comment through unmodified.
func (e *Encrypter) stECD() encryptStateFn {
	hdr, ok := e.take(endOfCentralDirLen)
	if !ok {
		return nil
	}
	putLE32(hdr[16:20], e.centralDirOffset)
	commentLen := int(le16(hdr[20:22]))
	e.emit(hdr)
	return e.stECDComment(commentLen)
}

func (e *Encrypter) stECDComment(n int) encryptStateFn {
	if n == 0 {
		return (*Encrypter).stTail
	}
	rest, ok := e.take(n)
	if !ok {
		e.pendingECDComment = n
		return (*Encrypter).stECDCommentWait
	}
	e.emit(rest)
	return (*Encrypter).stTail
}

func (e *Encrypter) stECDCommentWait() encryptStateFn {
	rest, ok := e.take(e.pendingECDComment)
	if !ok {
		return nil
	}
	e.pendingECDComment = 0
	e.emit(rest)
	return (*Encrypter).stTail
}

// stTail passes through anything left over after the end-of-central-
// directory record, which in a single-disk, non-ZIP64 archive should
// be nothing.
func (e *Encrypter) stTail() encryptStateFn {
	for len(e.in) > 0 {
		b, _ := e.take(1)
		e.emit(b)
	}
	return nil
}
