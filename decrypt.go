package zcstream

import (
	"bufio"
	"io"

	"github.com/dkranzer/zcstream/tracelog"
	"github.com/dkranzer/zcstream/zcerr"
)

// DecrypterOptions configures a Decrypter. The zero value is the
// default: the password check is advisory only (see spec §7, §9).
type DecrypterOptions struct {
	// StrictPasswordCheck turns the 12th-header-byte weak password
	// check into a hard error (zcerr.ErrPasswordCheckFailed) instead of
	// silently ignoring a mismatch.
	StrictPasswordCheck bool
}

// decryptStateFn is the Decrypter's current position in the per-file
// record it is parsing. Each stateFn reads exactly the bytes its
// record field needs (via the underlying, non-seeking bufio.Reader),
// queues zero or more transformed bytes into pending, and returns the
// next stateFn to run.
type decryptStateFn func(*Decrypter) decryptStateFn

// Decrypter converts a ZipCrypto-protected ZIP archive byte stream into
// a plain one. Bytes are pulled one at a time through ReadByte (or in
// bulk through Read); the underlying reader is never seeked, and at
// most a 4-byte lookahead is held for locating a data descriptor after
// a deferred-size payload.
//
// A Decrypter is single-threaded and not safe for concurrent use. Once
// it returns an error other than io.EOF, it is poisoned: further calls
// return the same error.
type Decrypter struct {
	r    *bufio.Reader
	opts DecrypterOptions

	passwordKeys keys
	payload      *cipher

	state decryptStateFn

	flags      uint16
	deferred   bool
	fnLen      uint16
	crcLowByte byte
	compressed int64 // remaining payload bytes; meaningless while deferred

	pending []byte
	offset  int64
	cfhIndex int

	err    error
	closed bool
	source io.Reader
}

// NewDecrypter returns a Decrypter reading from r and keyed by
// password. Only the low 8 bits of each password byte participate in
// the key schedule (spec §4.1). The password's keys are derived
// immediately in this call and the password slice itself is never
// retained, so the caller may zero it after NewDecrypter returns.
func NewDecrypter(r io.Reader, password []byte, opts DecrypterOptions) *Decrypter {
	d := &Decrypter{
		r:            bufio.NewReaderSize(r, 4096),
		opts:         opts,
		passwordKeys: initFromPassword(password),
		source:       r,
	}
	d.state = (*Decrypter).stSignature
	return d
}

// ReadByte returns the next decrypted byte, or an error. At end of
// input it returns (0, io.EOF) on every subsequent call.
func (d *Decrypter) ReadByte() (byte, error) {
	if d.closed {
		return 0, zcerr.ErrClosed
	}
	for len(d.pending) == 0 && d.err == nil {
		d.state = d.state(d)
	}
	if len(d.pending) > 0 {
		b := d.pending[0]
		d.pending = d.pending[1:]
		return b, nil
	}
	return 0, d.err
}

// Read implements io.Reader in terms of ReadByte.
func (d *Decrypter) Read(p []byte) (int, error) {
	for i := range p {
		b, err := d.ReadByte()
		if err != nil {
			if i > 0 && err == io.EOF {
				return i, nil
			}
			return i, err
		}
		p[i] = b
	}
	return len(p), nil
}

// Close releases the underlying source, if it implements io.Closer.
// Close is idempotent.
func (d *Decrypter) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if c, ok := d.source.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (d *Decrypter) fail(op string, err error) decryptStateFn {
	d.err = zcerr.Wrap(op, d.offset, err)
	return (*Decrypter).stDone
}

func (d *Decrypter) stDone() decryptStateFn {
	d.err = io.EOF
	return (*Decrypter).stDone
}

// read reads exactly len(buf) bytes, treating a short read as a
// malformed (truncated) archive rather than a plain EOF, since it
// occurs mid-record.
func (d *Decrypter) read(buf []byte) bool {
	n, err := io.ReadFull(d.r, buf)
	d.offset += int64(n)
	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			d.err = zcerr.Wrap("stream", d.offset, zcerr.ErrMalformedArchive)
		} else {
			d.err = err
		}
		return false
	}
	return true
}

func (d *Decrypter) emit(b ...byte) {
	d.pending = append(d.pending, b...)
}

// stSignature peeks the next 4 bytes to classify the record. Anything
// other than a local file header signature (or not enough bytes left
// for one) hands the rest of the input to stTail, which fixes up the
// central directory and end-of-central-directory records and copies
// everything else through unmodified.
func (d *Decrypter) stSignature() decryptStateFn {
	peek, err := d.r.Peek(4)
	if err != nil || le32(peek) != sigLocalFileHeader {
		return (*Decrypter).stTail
	}
	var sig [4]byte
	if !d.read(sig[:]) {
		return (*Decrypter).stDone
	}
	d.emit(sig[:]...)
	tracelog.Debug("decrypt: local file header", "offset", d.offset-4)

	var versionNeeded [2]byte
	if !d.read(versionNeeded[:]) {
		return (*Decrypter).stDone
	}
	d.emit(versionNeeded[:]...)
	return (*Decrypter).stFlags
}

func (d *Decrypter) stFlags() decryptStateFn {
	var buf [2]byte
	if !d.read(buf[:]) {
		return (*Decrypter).stDone
	}
	d.flags = le16(buf[:])
	if d.flags&0x1 == 0 {
		return d.fail("flags", zcerr.ErrNotEncrypted)
	}
	if d.flags&0x40 != 0 {
		return d.fail("flags", zcerr.ErrStrongEncryptionUnsupported)
	}
	d.deferred = d.flags&0x8 != 0
	out := d.flags &^ 0x1
	var outBuf [2]byte
	putLE16(outBuf[:], out)
	d.emit(outBuf[:]...)

	var methodTimeDate [6]byte
	if !d.read(methodTimeDate[:]) {
		return (*Decrypter).stDone
	}
	d.emit(methodTimeDate[:]...)

	if d.deferred {
		// CRC, compressed size, and uncompressed size are all zero
		// (or meaningless) in the local header and pass through
		// unchanged; the real values come later in the data
		// descriptor.
		var sizes [12]byte
		if !d.read(sizes[:]) {
			return (*Decrypter).stDone
		}
		d.emit(sizes[:]...)
		d.compressed = -1
		return (*Decrypter).stFileNameLen
	}
	return (*Decrypter).stCRC
}

func (d *Decrypter) stCRC() decryptStateFn {
	var buf [4]byte
	if !d.read(buf[:]) {
		return (*Decrypter).stDone
	}
	d.crcLowByte = buf[0]
	d.emit(buf[:]...)
	return (*Decrypter).stCompressedSize
}

func (d *Decrypter) stCompressedSize() decryptStateFn {
	var buf [4]byte
	if !d.read(buf[:]) {
		return (*Decrypter).stDone
	}
	d.compressed = int64(le32(buf[:])) - encryptionHeaderLen
	addUint32(buf[:], -encryptionHeaderLen)
	d.emit(buf[:]...)

	var usize [4]byte
	if !d.read(usize[:]) {
		return (*Decrypter).stDone
	}
	d.emit(usize[:]...)
	return (*Decrypter).stFileNameLen
}

func (d *Decrypter) stFileNameLen() decryptStateFn {
	var fnBuf, extraBuf [2]byte
	if !d.read(fnBuf[:]) {
		return (*Decrypter).stDone
	}
	d.fnLen = le16(fnBuf[:])
	d.emit(fnBuf[:]...)

	if !d.read(extraBuf[:]) {
		return (*Decrypter).stDone
	}
	extraLen := le16(extraBuf[:])
	d.emit(extraBuf[:]...)

	if d.fnLen == 0 {
		return d.fail("file name length", zcerr.ErrMalformedArchive)
	}

	rest := make([]byte, int(d.fnLen)+int(extraLen))
	if len(rest) > 0 && !d.read(rest) {
		return (*Decrypter).stDone
	}
	d.emit(rest...)
	return (*Decrypter).stHeader
}

// stHeader reseeds the working keys from the password keys and
// consumes the 12-byte encryption header, producing no output bytes
// (invariant 1: every encrypted payload is exactly 12 bytes longer
// than its plaintext counterpart).
func (d *Decrypter) stHeader() decryptStateFn {
	d.payload = newCipher(d.passwordKeys)
	var header [12]byte
	if !d.read(header[:]) {
		return (*Decrypter).stDone
	}
	var last byte
	for _, b := range header {
		last = d.payload.decryptByte(b)
	}
	if last != d.crcLowByte {
		if d.opts.StrictPasswordCheck {
			return d.fail("encryption header", zcerr.ErrPasswordCheckFailed)
		}
		tracelog.Warn("decrypt: password check failed", "offset", d.offset)
	}
	return (*Decrypter).stData
}

// stData decrypts payload bytes. When the compressed size was known up
// front it simply counts down; otherwise it holds a 4-byte lookahead
// so that the data descriptor signature terminating the payload is
// recognized before its bytes are mistakenly decrypted as data.
func (d *Decrypter) stData() decryptStateFn {
	if !d.deferred {
		for d.compressed > 0 {
			b, err := d.r.ReadByte()
			if err != nil {
				if err != io.EOF {
					d.err = err
					return (*Decrypter).stDone
				}
				return d.fail("payload", zcerr.ErrMalformedArchive)
			}
			d.offset++
			d.emit(d.payload.decryptByte(b))
			d.compressed--
		}
		return (*Decrypter).stSignature
	}
	return d.stDataDeferred()
}

func (d *Decrypter) stDataDeferred() decryptStateFn {
	var window [4]byte
	filled := 0
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			if err != io.EOF {
				d.err = err
				return (*Decrypter).stDone
			}
			return d.fail("payload", zcerr.ErrMalformedArchive)
		}
		d.offset++
		if filled < 4 {
			window[filled] = b
			filled++
			if filled < 4 {
				continue
			}
		} else {
			oldest := window[0]
			copy(window[:3], window[1:])
			window[3] = b
			d.emit(d.payload.decryptByte(oldest))
		}
		if le32(window[:]) == sigDataDescriptor {
			d.emit(window[:]...)
			return d.finishDataDescriptor()
		}
	}
}

// finishDataDescriptor passes through the data descriptor's CRC,
// rewrites its compressed size exactly as stCompressedSize does for
// the local header, and passes through the uncompressed size before
// returning to the next record.
func (d *Decrypter) finishDataDescriptor() decryptStateFn {
	var crc [4]byte
	if !d.read(crc[:]) {
		return (*Decrypter).stDone
	}
	d.emit(crc[:]...)

	var csize [4]byte
	if !d.read(csize[:]) {
		return (*Decrypter).stDone
	}
	addUint32(csize[:], -encryptionHeaderLen)
	d.emit(csize[:]...)

	var usize [4]byte
	if !d.read(usize[:]) {
		return (*Decrypter).stDone
	}
	d.emit(usize[:]...)
	return (*Decrypter).stSignature
}

// stTail handles everything that follows the last local file header: the
// central directory and the end-of-central-directory record. Unlike the
// distilled description this package started from, it does not treat
// that region as blind passthrough. Every local file header this
// package decrypts loses exactly 12 bytes (its encryption header), which
// shifts the byte offset of every record that follows; left uncorrected,
// the central directory's recorded offsets would point 12*n bytes past
// where the corresponding local file headers actually ended up, and its
// copy of general-purpose bit 0 would still claim the entries are
// encrypted. Both would make the decrypter's own output fail the
// round-trip property and confuse any real unzip tool. So stTail
// recognizes the central file header and end-of-central-directory
// records well enough to fix up exactly those fields, and otherwise
// copies bytes through unchanged.
func (d *Decrypter) stTail() decryptStateFn {
	peek, err := d.r.Peek(4)
	if err != nil {
		return (*Decrypter).stTailCopy
	}
	switch le32(peek) {
	case sigCentralFileHeader:
		return d.stTailCFH()
	case sigEndOfCentralDir:
		return d.stTailECD()
	default:
		return (*Decrypter).stTailCopy
	}
}

// stTailCopy copies a single byte through unmodified and stays in the
// tail region, re-checking for a record signature on the next byte.
func (d *Decrypter) stTailCopy() decryptStateFn {
	b, err := d.r.ReadByte()
	if err != nil {
		d.err = err
		return (*Decrypter).stDone
	}
	d.offset++
	d.emit(b)
	return (*Decrypter).stTail
}

// stTailCFH rewrites one central file header: flags bit 0 is cleared,
// the compressed size is reduced by 12 exactly as the local header's
// was, and the local header offset is reduced by 12 bytes for every
// file already seen in the central directory (cfhIndex), since that is
// exactly how much the corresponding local file header shifted left.
func (d *Decrypter) stTailCFH() decryptStateFn {
	var hdr [centralFileHeaderLen]byte
	if !d.read(hdr[:]) {
		return (*Decrypter).stDone
	}

	flags := le16(hdr[8:10])
	flags &^= 0x1
	putLE16(hdr[8:10], flags)

	addUint32(hdr[20:24], -encryptionHeaderLen)
	addUint32(hdr[42:46], -encryptionHeaderLen*int64(d.cfhIndex))

	fnLen := le16(hdr[28:30])
	extraLen := le16(hdr[30:32])
	commentLen := le16(hdr[32:34])
	d.emit(hdr[:]...)
	d.cfhIndex++

	rest := make([]byte, int(fnLen)+int(extraLen)+int(commentLen))
	if len(rest) > 0 && !d.read(rest) {
		return (*Decrypter).stDone
	}
	d.emit(rest...)
	return (*Decrypter).stTail
}

// stTailECD rewrites the central directory's starting offset, shifted
// left by 12 bytes for every file the central directory describes, then
// passes through the trailing archive comment unmodified.
func (d *Decrypter) stTailECD() decryptStateFn {
	var hdr [endOfCentralDirLen]byte
	if !d.read(hdr[:]) {
		return (*Decrypter).stDone
	}
	addUint32(hdr[16:20], -encryptionHeaderLen*int64(d.cfhIndex))
	commentLen := le16(hdr[20:22])
	d.emit(hdr[:]...)

	comment := make([]byte, int(commentLen))
	if len(comment) > 0 && !d.read(comment) {
		return (*Decrypter).stDone
	}
	d.emit(comment...)
	return (*Decrypter).stTailCopy
}
