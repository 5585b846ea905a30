package transport

import (
	"context"
	"sync"

	"trackway/internal/proto"
)

const pipeBuffer = 64

type pipeState struct {
	once sync.Once
	done chan struct{}
}

func (s *pipeState) close() {
	s.once.Do(func() { close(s.done) })
}

// PipeConn is one end of an in-memory connection.
type PipeConn struct {
	in    <-chan proto.Message
	out   chan<- proto.Message
	state *pipeState
}

// Pipe returns two connected ends. Closing either end closes both; messages
// already sent are still delivered before Recv reports ErrClosed.
func Pipe() (*PipeConn, *PipeConn) {
	ab := make(chan proto.Message, pipeBuffer)
	ba := make(chan proto.Message, pipeBuffer)
	st := &pipeState{done: make(chan struct{})}
	return &PipeConn{in: ba, out: ab, state: st}, &PipeConn{in: ab, out: ba, state: st}
}

func (p *PipeConn) Send(ctx context.Context, msg proto.Message) error {
	select {
	case <-p.state.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- msg:
		return nil
	case <-p.state.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PipeConn) Recv(ctx context.Context) (proto.Message, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	default:
	}
	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.state.done:
		select {
		case msg := <-p.in:
			return msg, nil
		default:
			return proto.Message{}, ErrClosed
		}
	case <-ctx.Done():
		return proto.Message{}, ctx.Err()
	}
}

func (p *PipeConn) Close() error {
	p.state.close()
	return nil
}
