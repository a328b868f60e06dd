package core

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/pierrec/lz4/v4"
	"lukechampine.com/blake3"
)

var bufferPool = sync.Pool{New: func() interface{} { return new(bytes.Buffer) }}

// --- Compression ---

func Compress(src []byte) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	defer bufferPool.Put(buf)
	buf.Reset()

	w := lz4.NewWriter(buf)
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("lz4 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 close: %w", err)
	}

	// Return strictly sized slice
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func Decompress(src []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(src))
	var out bytes.Buffer
	if _, err := out.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("lz4 read: %w", err)
	}
	return out.Bytes(), nil
}

// --- Hashing ---

func Hash(data []byte) string {
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ChainHash links a payload to the previous link of a hash chain.
func ChainHash(payload []byte, prev string) string {
	h := blake3.New(32, nil)
	h.Write(payload)
	h.Write([]byte(prev))
	return hex.EncodeToString(h.Sum(nil))
}

// HashToken derives the stored form of an API token.
func HashToken(token string) string {
	return Hash([]byte("outpost-token:" + token))
}
