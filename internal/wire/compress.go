package wire

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// Pooled gzip state: writers hold ~128KB and readers ~32KB of internal
// buffers, so reusing them avoids heavy GC pressure on busy write paths.
var (
	gzipWriterPool = sync.Pool{
		New: func() interface{} {
			w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
			return w
		},
	}
	gzipReaderPool  = sync.Pool{}
	compressBufPool = sync.Pool{
		New: func() interface{} {
			return new(bytes.Buffer)
		},
	}
)

// IsGzip reports whether data starts with the gzip magic bytes
func IsGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

// Compress gzips a payload using a pooled writer
func Compress(data []byte) ([]byte, error) {
	buf := compressBufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer compressBufPool.Put(buf)

	w := gzipWriterPool.Get().(*gzip.Writer)
	w.Reset(buf)

	if _, err := w.Write(data); err != nil {
		gzipWriterPool.Put(w)
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		gzipWriterPool.Put(w)
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	gzipWriterPool.Put(w)

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// Decompress gunzips a payload when it carries the gzip magic, passing
// other payloads through untouched. maxSize bounds the decompressed size.
func Decompress(data []byte, maxSize int64) ([]byte, error) {
	if !IsGzip(data) {
		return data, nil
	}

	var reader *gzip.Reader
	if pooled := gzipReaderPool.Get(); pooled != nil {
		reader = pooled.(*gzip.Reader)
		if err := reader.Reset(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("gzip reset: %w", err)
		}
	} else {
		var err error
		reader, err = gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip open: %w", err)
		}
	}
	defer gzipReaderPool.Put(reader)

	out, err := io.ReadAll(io.LimitReader(reader, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	if int64(len(out)) > maxSize {
		return nil, fmt.Errorf("decompressed payload exceeds %d bytes", maxSize)
	}
	return out, nil
}
