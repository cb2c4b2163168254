package httpstream

import (
	"bytes"
	"hash/crc32"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dkranzer/zcstream"
	"github.com/dkranzer/zcstream/fixture"
)

func buildPlainArchive(t *testing.T) []byte {
	t.Helper()
	content := []byte("Hello")
	archive, err := fixture.NewBuilder().Add(fixture.Entry{
		Name:    "hello.txt",
		Content: content,
		CRC32:   crc32.ChecksumIEEE(content),
	}).Bytes()
	if err != nil {
		t.Fatalf("building fixture archive: %v", err)
	}
	return archive
}

func TestDecryptHandlerStreamsDecryptedBody(t *testing.T) {
	plain := buildPlainArchive(t)

	var encrypted bytes.Buffer
	enc := zcstream.NewEncrypter(&encrypted, []byte("pw"), zcstream.EncrypterOptions{})
	if _, err := enc.Write(plain); err != nil {
		t.Fatalf("encrypting fixture: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("closing encrypter: %v", err)
	}

	h := &DecryptHandler{
		Source: func(r *http.Request) (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(encrypted.Bytes())), nil
		},
		Password: func(r *http.Request) []byte { return []byte("pw") },
		Name:     "hello.zip",
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/hello.zip", nil))

	if ct := rr.Header().Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("Content-Type = %q, want application/zip", ct)
	}
	if !bytes.Equal(rr.Body.Bytes(), plain) {
		t.Fatalf("decrypted body does not match the original plain archive")
	}
}

func TestEncryptUploadProducesEncryptedFlag(t *testing.T) {
	plain := buildPlainArchive(t)

	var encrypted bytes.Buffer
	if err := EncryptUpload(&encrypted, bytes.NewReader(plain), []byte("pw"), zcstream.EncrypterOptions{}); err != nil {
		t.Fatalf("EncryptUpload: %v", err)
	}

	flags := uint16(encrypted.Bytes()[6]) | uint16(encrypted.Bytes()[7])<<8
	if flags&0x1 == 0 {
		t.Fatalf("expected the encrypted-bit set in the output's local file header")
	}
}
