package ipc

import (
	"bufio"
	"encoding/binary"
	"io"
	"sync"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/gogpu/gpuproc/script"
)

// MaxRecordSize bounds the length prefix accepted by Reader.
const MaxRecordSize = 1 << 20

// ErrRecordTooLarge is returned by Reader for a length prefix above
// MaxRecordSize.
var ErrRecordTooLarge = errors.New("ipc: record too large")

// StreamSender is a script.Sender writing length-prefixed records to w.
// It is safe for concurrent use.
type StreamSender struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte
}

// NewStreamSender returns a sender writing to w.
func NewStreamSender(w io.Writer) *StreamSender {
	return &StreamSender{w: w}
}

// Send writes msg as one record.
func (s *StreamSender) Send(msg script.Msg) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := Marshal(s.buf[:0], msg)
	if err != nil {
		return err
	}
	frame := protowire.AppendVarint(make([]byte, 0, len(record)+binary.MaxVarintLen64), uint64(len(record)))
	frame = append(frame, record...)
	s.buf = record[:0]
	if _, err := s.w.Write(frame); err != nil {
		return errors.Wrapf(err, "ipc: write %T", msg)
	}
	return nil
}

// Reader decodes records written by StreamSender.
type Reader struct {
	r *bufio.Reader
}

// NewReader returns a reader decoding from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next message. It returns io.EOF at a clean end of
// stream and io.ErrUnexpectedEOF inside a record.
func (r *Reader) Next() (script.Msg, error) {
	size, err := binary.ReadUvarint(r.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, errors.WithMessage(err, "ipc: read length")
	}
	if size > MaxRecordSize {
		return nil, errors.Wrapf(ErrRecordTooLarge, "%d bytes", size)
	}
	record := make([]byte, size)
	if _, err := io.ReadFull(r.r, record); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.WithMessage(err, "ipc: read record")
	}
	return Unmarshal(record)
}

// Pump reads messages from r and hands them to dst until the stream ends.
// A clean end of stream returns nil.
func Pump(r *Reader, dst script.Sender) error {
	for {
		msg, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := dst.Send(msg); err != nil {
			return errors.WithMessage(err, "ipc: forward message")
		}
	}
}
