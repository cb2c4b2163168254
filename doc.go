// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package zcstream converts ZIP archives between two forms: a plain
// archive, and one whose member payloads are protected with the
// classical PKWARE "traditional" (ZipCrypto) stream cipher. Both
// directions operate on a byte stream, never seeking and never holding
// more than one file's payload in memory at a time, with one
// exception: a member whose size is only known from a trailing data
// descriptor must be buffered until that descriptor arrives.
//
// Decrypter exposes a pull interface over an io.Reader:
//
//	dec := zcstream.NewDecrypter(encryptedArchive, password, zcstream.DecrypterOptions{})
//	defer dec.Close()
//	io.Copy(plainArchiveOut, dec)
//
// Encrypter exposes a push interface over an io.Writer:
//
//	enc := zcstream.NewEncrypter(encryptedArchiveOut, password, zcstream.EncrypterOptions{})
//	io.Copy(enc, plainArchive)
//	enc.Close()
//
// Neither direction understands ZIP64, multi-disk archives, Strong
// Encryption, or AES (WinZip AE-x). Only Strong Encryption (flag bit 6)
// is detected and fails with an error; ZIP64, multi-disk and AES
// archives are not detected and are processed as ordinary archives.
// See the zcerr package for the error taxonomy.
package zcstream
