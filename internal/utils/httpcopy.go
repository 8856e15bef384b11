package utils

import (
	"io"
	"net/http"
)

const BUF_LEN = 32 * 1024

// CopyToHTTP copies the reader to the response, flushing after every chunk.
func CopyToHTTP(w http.ResponseWriter, r io.Reader) (int64, error) {
	flusher, _ := w.(http.Flusher)
	buffer := make([]byte, BUF_LEN)

	var written int64
	for {
		n, err := r.Read(buffer)
		if n > 0 {
			m, werr := w.Write(buffer[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}

			if flusher != nil {
				flusher.Flush()
			}
		}

		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}
