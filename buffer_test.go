package zcstream

import "testing"

func TestRowBufferWriteAndRead(t *testing.T) {
	b := newRowBuffer(4) // tiny rows to exercise the row boundary
	data := []byte("0123456789")
	for _, c := range data {
		b.WriteByte(c)
	}
	if b.Len() != len(data) {
		t.Fatalf("Len() = %d, want %d", b.Len(), len(data))
	}
	for i, want := range data {
		if got := b.At(i); got != want {
			t.Errorf("At(%d) = %q, want %q", i, got, want)
		}
	}
}

func TestRowBufferSlice(t *testing.T) {
	b := newRowBuffer(4)
	for _, c := range []byte("abcdefgh") {
		b.WriteByte(c)
	}
	got := b.Slice(2, 6)
	if string(got) != "cdef" {
		t.Fatalf("Slice(2, 6) = %q, want %q", got, "cdef")
	}
}

func TestRowBufferPutAt(t *testing.T) {
	b := newRowBuffer(4)
	for _, c := range []byte("aaaaaaaa") {
		b.WriteByte(c)
	}
	b.PutAt(5, 'Z')
	if got := b.At(5); got != 'Z' {
		t.Fatalf("At(5) after PutAt = %q, want Z", got)
	}
	if got := b.At(4); got != 'a' {
		t.Fatalf("neighboring byte At(4) = %q, want a (PutAt must not spill)", got)
	}
}

func TestRowBufferResetReusesCapacity(t *testing.T) {
	b := newRowBuffer(4)
	for _, c := range []byte("aaaaaaaa") {
		b.WriteByte(c)
	}
	b.Reset()
	if b.Len() != 0 {
		t.Fatalf("Len() after Reset = %d, want 0", b.Len())
	}
	b.WriteByte('x')
	if got := b.At(0); got != 'x' {
		t.Fatalf("At(0) after reuse = %q, want x", got)
	}
}

func TestRowBufferEach(t *testing.T) {
	b := newRowBuffer(4)
	for _, c := range []byte("abcdef") {
		b.WriteByte(c)
	}
	var out []byte
	b.Each(func(c byte) { out = append(out, c) })
	if string(out) != "abcdef" {
		t.Fatalf("Each produced %q, want abcdef", out)
	}
}

func TestRowBufferDefaultRowSize(t *testing.T) {
	b := newRowBuffer(0)
	if b.rowSize != defaultRowSize {
		t.Fatalf("rowSize = %d, want default %d", b.rowSize, defaultRowSize)
	}
}
