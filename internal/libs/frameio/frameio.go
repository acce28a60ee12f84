// Package frameio reads and writes varint length-delimited CBOR frames, the
// wire framing used by the stream transports.
package frameio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	pool "github.com/libp2p/go-buffer-pool"

	"github.com/chainrelay/chainrelay/types"
)

// DefaultMaxFrameSize bounds a single frame when no limit is given.
const DefaultMaxFrameSize = 16 << 20

type Writer interface {
	WriteMsg(v interface{}) (int, error)
}

type WriteCloser interface {
	Writer
	io.Closer
}

type Reader interface {
	ReadMsg(v interface{}) (int, error)
}

type ReadCloser interface {
	Reader
	io.Closer
}

// NewDelimitedWriter writes varint-delimited CBOR frames to w. WriteMsg is safe
// for concurrent use; frames are never interleaved.
func NewDelimitedWriter(w io.Writer) WriteCloser {
	return &varintWriter{w: w, lenBuf: make([]byte, binary.MaxVarintLen64)}
}

type varintWriter struct {
	mtx    sync.Mutex
	w      io.Writer
	lenBuf []byte
}

func (w *varintWriter) WriteMsg(v interface{}) (int, error) {
	bz, err := types.Marshal(v)
	if err != nil {
		return 0, err
	}

	w.mtx.Lock()
	defer w.mtx.Unlock()

	n := binary.PutUvarint(w.lenBuf, uint64(len(bz)))
	if _, err := w.w.Write(w.lenBuf[:n]); err != nil {
		return 0, err
	}
	written, err := w.w.Write(bz)
	return n + written, err
}

func (w *varintWriter) Close() error {
	if closer, ok := w.w.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// NewDelimitedReader reads varint-delimited CBOR frames from r, rejecting
// frames larger than maxSize bytes.
func NewDelimitedReader(r io.Reader, maxSize int) ReadCloser {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	var closer io.Closer
	if c, ok := r.(io.Closer); ok {
		closer = c
	}
	return &varintReader{r: bufio.NewReader(r), closer: closer, maxSize: maxSize}
}

type varintReader struct {
	r       *bufio.Reader
	closer  io.Closer
	maxSize int
}

func (r *varintReader) ReadMsg(v interface{}) (int, error) {
	l, err := binary.ReadUvarint(r.r)
	if err != nil {
		return 0, err
	}
	length := int(l)
	if l >= uint64(^uint(0)>>1) || length < 0 || length > r.maxSize {
		return 0, fmt.Errorf("frame size %v exceeds maximum %v", l, r.maxSize)
	}
	n := uvarintSize(l)

	buf := pool.Get(length)
	defer pool.Put(buf)

	if _, err := io.ReadFull(r.r, buf); err != nil {
		return n, err
	}
	return n + length, types.Unmarshal(buf, v)
}

func (r *varintReader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func uvarintSize(num uint64) int {
	bits := 0
	for num > 0 {
		bits++
		num >>= 7
	}
	if bits == 0 {
		return 1
	}
	return bits
}
