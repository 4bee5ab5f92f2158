// Package sha256 digests exports while they stream to a blob store.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// Reader digests everything read through it.
type Reader struct {
	src io.Reader
	sum hash.Hash
	n   int64
}

// NewReader wraps src. The digest covers only the bytes consumers actually
// read, so it matches what an upload stored.
func NewReader(src io.Reader) *Reader {
	return &Reader{src: src, sum: sha256.New()}
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		r.sum.Write(p[:n])
		r.n += int64(n)
	}
	return n, err
}

// Size returns the number of bytes read so far.
func (r *Reader) Size() int64 { return r.n }

// Sum returns the hex digest of the bytes read so far.
func (r *Reader) Sum() string {
	return hex.EncodeToString(r.sum.Sum(nil))
}

// Sum returns the hex digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
