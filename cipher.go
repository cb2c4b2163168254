package zcstream

import "hash/crc32"

// keys is the ZipCrypto key schedule state: three 32-bit words updated
// one plaintext byte at a time. A transformer keeps two instances, the
// password keys (seeded once, read-only afterwards) and the working
// keys (reset from the password keys at the start of every file).
//
// See PKWARE APPNOTE.TXT section 6.1.
type keys struct {
	k0, k1, k2 uint32
}

// newKeys returns the initial key triple before any password byte has
// been folded in.
func newKeys() keys {
	return keys{k0: 0x12345678, k1: 0x23456789, k2: 0x34567890}
}

// initFromPassword seeds a key triple from a password, one byte at a
// time. Only the low 8 bits of each password byte participate.
func initFromPassword(password []byte) keys {
	k := newKeys()
	for _, b := range password {
		k = k.update(b)
	}
	return k
}

// update folds one plaintext byte into the key state and returns the
// resulting triple. update is pure: it does not mutate k.
func (k keys) update(b byte) keys {
	k0 := crc32Step(k.k0, b)
	k1 := k.k1 + (k0 & 0xff)
	k1 = k1*134775813 + 1
	k2 := crc32Step(k.k2, byte(k1>>24))
	return keys{k0: k0, k1: k1, k2: k2}
}

// crc32Step advances a CRC-32 accumulator by one byte, using the
// standard library's IEEE table (reversed polynomial 0xEDB88320) so the
// 256-entry table doesn't need to be hand-rolled here.
func crc32Step(c uint32, x byte) uint32 {
	return (c >> 8) ^ crc32.IEEETable[byte(c)^x]
}

// keystreamByte derives the next keystream byte from k2, per
// APPNOTE 6.1.5.
func (k keys) keystreamByte() byte {
	t := uint32(k.k2|2) & 0xffff
	return byte((t * (t ^ 1)) >> 8)
}

// cipher wraps a working key triple and exposes the encrypt/decrypt
// byte operations. Both directions update the key state from the
// plaintext byte, which is why decrypt must recover the plaintext
// before folding it into the keys.
type cipher struct {
	k keys
}

// newCipher resets working keys from the password keys, as required at
// the start of every file's payload (invariant 2 in the spec).
func newCipher(passwordKeys keys) *cipher {
	return &cipher{k: passwordKeys}
}

// encryptByte returns the ciphertext for plaintext byte b and advances
// the key state.
func (c *cipher) encryptByte(b byte) byte {
	out := b ^ c.k.keystreamByte()
	c.k = c.k.update(b)
	return out
}

// decryptByte returns the plaintext for ciphertext byte b and advances
// the key state from the recovered plaintext.
func (c *cipher) decryptByte(b byte) byte {
	plain := b ^ c.k.keystreamByte()
	c.k = c.k.update(plain)
	return plain
}
