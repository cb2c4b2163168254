// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fixture builds small, plain (unencrypted) ZIP archives
// in-memory for use as test input to the zcstream encrypter and as
// fixtures for exercising the decrypter against known-good output.
//
// It is adapted from a ZIP archive assembler that originally supported
// HTTP range serving and ZIP64 output over arbitrary ReaderAt content;
// neither is relevant here, since fixtures are built and held
// in-memory for the lifetime of a test. What remains is the field
// layout and little-endian record encoding, which is the part that
// must match a real ZIP archive byte for byte.
package fixture

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
	"unicode/utf8"
)

// Compression methods.
const (
	Store   uint16 = 0
	Deflate uint16 = 8
)

const (
	fileHeaderSignature     = 0x04034b50
	directoryHeaderSignature = 0x02014b50
	directoryEndSignature   = 0x06054b50
	dataDescriptorSignature = 0x08074b50
	fileHeaderLen           = 30 // + name + extra
	directoryHeaderLen      = 46 // + name + extra + comment
	directoryEndLen         = 22 // + comment
	dataDescriptorLen       = 16 // signature + crc32 + compressed size + uncompressed size

	zipVersion20 = 20
)

var (
	errLongName  = errors.New("fixture: entry name too long")
	errLongExtra = errors.New("fixture: entry extra field too long")
)

// Entry describes one member of a built archive.
type Entry struct {
	// Name is the member's path; must be non-empty.
	Name string
	// Content is the (already-"compressed", normally just Store'd raw)
	// bytes of the member.
	Content []byte
	// CRC32 is the checksum of Content. Builders that don't care about
	// a correct value (most tests don't exercise CRC verification) may
	// leave it zero.
	CRC32 uint32
	// Method is the compression method recorded in the header. Fixture
	// only ever writes Content as-is, so non-Store methods are only
	// useful for exercising readers that don't care about payload
	// validity.
	Method uint16
	// Modified is the entry's modification time.
	Modified time.Time
	// Deferred writes the entry with general-purpose flag bit 3 set:
	// the local header's CRC/size fields are zeroed and the real
	// values trail the payload in a data descriptor, exactly the
	// layout the decrypter's deferred-size path exists to handle.
	Deferred bool
	// ExternalAttrs is copied verbatim into the central directory
	// entry; Fixture does not interpret it.
	ExternalAttrs uint32
}

// Builder accumulates entries and renders them into a single ZIP byte
// stream on Bytes.
type Builder struct {
	entries []Entry
	comment string
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends an entry. Entries are written in the order added.
func (b *Builder) Add(e Entry) *Builder {
	if e.Modified.IsZero() {
		e.Modified = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	b.entries = append(b.entries, e)
	return b
}

// Comment sets the end-of-central-directory comment.
func (b *Builder) Comment(c string) *Builder {
	b.comment = c
	return b
}

// Bytes renders the archive.
func (b *Builder) Bytes() ([]byte, error) {
	var out bytes.Buffer
	offsets := make([]int64, len(b.entries))

	for i, e := range b.entries {
		if len(e.Name) == 0 {
			return nil, errors.New("fixture: empty entry name")
		}
		offsets[i] = int64(out.Len())
		if err := writeLocalHeader(&out, e); err != nil {
			return nil, err
		}
	}

	cdStart := int64(out.Len())
	for i, e := range b.entries {
		if err := writeDirectoryHeader(&out, e, offsets[i]); err != nil {
			return nil, err
		}
	}
	cdSize := int64(out.Len()) - cdStart

	if err := writeEndOfCentralDirectory(&out, len(b.entries), cdSize, cdStart, b.comment); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func flagsFor(e Entry) uint16 {
	var flags uint16
	if e.Deferred {
		flags |= 0x8
	}
	valid, require := detectUTF8(e.Name)
	if require && valid {
		flags |= 0x800
	}
	return flags
}

func writeLocalHeader(w io.Writer, e Entry) error {
	if len(e.Name) > 0xffff {
		return errLongName
	}
	flags := flagsFor(e)
	modifiedDate, modifiedTime := timeToMsDosTime(e.Modified)

	var buf [fileHeaderLen]byte
	b := writeBuf(buf[:])
	b.uint32(fileHeaderSignature)
	b.uint16(zipVersion20)
	b.uint16(flags)
	b.uint16(e.Method)
	b.uint16(modifiedTime)
	b.uint16(modifiedDate)
	if e.Deferred {
		b.uint32(0)
		b.uint32(0)
		b.uint32(0)
	} else {
		b.uint32(e.CRC32)
		b.uint32(uint32(len(e.Content)))
		b.uint32(uint32(len(e.Content)))
	}
	b.uint16(uint16(len(e.Name)))
	b.uint16(0) // extra field length
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, e.Name); err != nil {
		return err
	}
	if _, err := w.Write(e.Content); err != nil {
		return err
	}
	if e.Deferred {
		var dd [dataDescriptorLen]byte
		db := writeBuf(dd[:])
		db.uint32(dataDescriptorSignature)
		db.uint32(e.CRC32)
		db.uint32(uint32(len(e.Content)))
		db.uint32(uint32(len(e.Content)))
		if _, err := w.Write(dd[:]); err != nil {
			return err
		}
	}
	return nil
}

func writeDirectoryHeader(w io.Writer, e Entry, localOffset int64) error {
	flags := flagsFor(e)
	modifiedDate, modifiedTime := timeToMsDosTime(e.Modified)

	var buf [directoryHeaderLen]byte
	b := writeBuf(buf[:])
	b.uint32(directoryHeaderSignature)
	b.uint16(zipVersion20)
	b.uint16(zipVersion20)
	b.uint16(flags)
	b.uint16(e.Method)
	b.uint16(modifiedTime)
	b.uint16(modifiedDate)
	b.uint32(e.CRC32)
	b.uint32(uint32(len(e.Content)))
	b.uint32(uint32(len(e.Content)))
	b.uint16(uint16(len(e.Name)))
	b.uint16(0) // extra field length
	b.uint16(0) // comment length
	b = b[4:]   // disk number start, internal file attrs
	b.uint32(e.ExternalAttrs)
	b.uint32(uint32(localOffset))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, e.Name)
	return err
}

func writeEndOfCentralDirectory(w io.Writer, count int, cdSize, cdStart int64, comment string) error {
	if len(comment) > 0xffff {
		return errors.New("fixture: comment too long")
	}
	var buf [directoryEndLen]byte
	b := writeBuf(buf[:])
	b.uint32(directoryEndSignature)
	b = b[4:] // disk number, disk with start of central directory
	b.uint16(uint16(count))
	b.uint16(uint16(count))
	b.uint32(uint32(cdSize))
	b.uint32(uint32(cdStart))
	b.uint16(uint16(len(comment)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, comment)
	return err
}

// detectUTF8 reports whether s is valid UTF-8, and whether it contains
// characters outside the CP-437-ish range most ZIP readers assume
// absent the UTF-8 flag. Adapted unchanged in behavior from the
// archive/zip family of implementations this package's ancestor drew
// from.
func detectUTF8(s string) (valid, require bool) {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		if r < 0x20 || r > 0x7d || r == 0x5c {
			if !utf8.ValidRune(r) || (r == utf8.RuneError && size == 1) {
				return false, false
			}
			require = true
		}
	}
	return true, require
}

func timeToMsDosTime(t time.Time) (fDate, fTime uint16) {
	fDate = uint16(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9)
	fTime = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return
}

type writeBuf []byte

func (b *writeBuf) uint16(v uint16) {
	binary.LittleEndian.PutUint16(*b, v)
	*b = (*b)[2:]
}

func (b *writeBuf) uint32(v uint32) {
	binary.LittleEndian.PutUint32(*b, v)
	*b = (*b)[4:]
}
