package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"trackway/internal/proto"
)

// MaxFrameSize bounds a single frame payload.
const MaxFrameSize = 10 * 1024 * 1024

// WriteFrame writes v as a length-prefixed JSON frame.
// Format: [4-byte big endian length][JSON payload]
func WriteFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(data))
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed JSON frame into v.
func ReadFrame(r io.Reader, v any) error {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return fmt.Errorf("read frame length: %w", err)
	}
	if length > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("read frame payload: %w", err)
	}
	if err := json.Unmarshal(buf, v); err != nil {
		return fmt.Errorf("unmarshal frame: %w", err)
	}
	return nil
}

// Framed speaks length-prefixed frames over a stream connection.
type Framed struct {
	conn    net.Conn
	writeMu sync.Mutex
	once    sync.Once
	closed  chan struct{}
}

func NewFramed(conn net.Conn) *Framed {
	return &Framed{conn: conn, closed: make(chan struct{})}
}

func (f *Framed) Send(ctx context.Context, msg proto.Message) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	stop := f.interruptOn(ctx, f.conn.SetWriteDeadline)
	defer stop()
	if err := WriteFrame(f.conn, msg); err != nil {
		return f.mapErr(ctx, err)
	}
	return nil
}

func (f *Framed) Recv(ctx context.Context) (proto.Message, error) {
	stop := f.interruptOn(ctx, f.conn.SetReadDeadline)
	defer stop()
	var msg proto.Message
	if err := ReadFrame(f.conn, &msg); err != nil {
		return proto.Message{}, f.mapErr(ctx, err)
	}
	return msg, nil
}

// interruptOn unblocks pending I/O when ctx ends by moving the deadline into
// the past.
func (f *Framed) interruptOn(ctx context.Context, setDeadline func(time.Time) error) func() {
	if ctx.Done() == nil {
		return func() {}
	}
	stop := context.AfterFunc(ctx, func() { _ = setDeadline(time.Unix(1, 0)) })
	return func() {
		if !stop() {
			_ = setDeadline(time.Time{})
		}
	}
}

func (f *Framed) mapErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return ctxErr
	}
	select {
	case <-f.closed:
		return ErrClosed
	default:
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}

func (f *Framed) Close() error {
	var err error
	f.once.Do(func() {
		close(f.closed)
		err = f.conn.Close()
	})
	return err
}
