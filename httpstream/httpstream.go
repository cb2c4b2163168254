// Package httpstream adapts the zcstream transformers to net/http. It is
// adapted from a ZIP archive server that supported HTTP range requests
// and conditional GETs backed by random-access content; neither applies
// here, since the transformers themselves never seek and have no fixed
// Content-Length until the whole decrypted or encrypted stream has been
// produced. What's left is the part that still makes sense for a
// byte-at-a-time transformer: setting the response headers a ZIP
// download expects and copying the transformed bytes straight through.
package httpstream

import (
	"fmt"
	"io"
	"net/http"

	"github.com/dkranzer/zcstream"
)

// DecryptHandler serves the ZipCrypto-protected archive read from
// Source, decrypted, as an HTTP download named Name. Source is opened
// fresh for every request and closed when the response is done.
type DecryptHandler struct {
	// Source opens the encrypted archive for one request.
	Source func(*http.Request) (io.ReadCloser, error)
	// Password returns the password to use for one request.
	Password func(*http.Request) []byte
	// Name is sent as the downloaded file's name, via
	// Content-Disposition.
	Name string
	// Options configures the underlying Decrypter.
	Options zcstream.DecrypterOptions
}

func (h *DecryptHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	src, err := h.Source(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var password []byte
	if h.Password != nil {
		password = h.Password(r)
	}

	dec := zcstream.NewDecrypter(src, password, h.Options)
	defer dec.Close()

	w.Header().Set("Content-Type", "application/zip")
	if h.Name != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", h.Name))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, dec); err != nil {
		// Headers are already flushed; nothing more to do but stop.
		return
	}
}

// EncryptUpload reads a plain ZIP archive from body, encrypts it
// with password, and writes the ZipCrypto-protected result to w. It is
// the push-style mirror of DecryptHandler, used where the server is the
// one producing an encrypted download from an uploaded plain archive.
func EncryptUpload(w io.Writer, body io.Reader, password []byte, opts zcstream.EncrypterOptions) error {
	enc := zcstream.NewEncrypter(w, password, opts)
	if _, err := io.Copy(enc, body); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}
