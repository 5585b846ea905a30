package repl

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackway/internal/proto"
	"trackway/internal/session"
	"trackway/internal/transport"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func establish(t *testing.T, ctx context.Context) (*session.Session, transport.Conn) {
	t.Helper()
	client, peer := transport.Pipe()
	s := session.New(client, session.Options{Token: "t"})
	for _, m := range []proto.Message{proto.Hello(), proto.SendToken(), proto.OK()} {
		require.NoError(t, peer.Send(ctx, m))
	}
	require.NoError(t, s.Handshake(ctx))
	for i := 0; i < 2; i++ {
		_, err := peer.Recv(ctx)
		require.NoError(t, err)
	}
	go func() { _ = s.Serve(ctx) }()
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, peer
}

func TestConsoleRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, peer := establish(t, ctx)

	in, feed := io.Pipe()
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- Run(ctx, s, in, out) }()

	_, err := io.WriteString(feed, "what is the weather?\n\n")
	require.NoError(t, err)
	got, err := peer.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, proto.NewPrompt("what is the weather?"), got)

	require.NoError(t, peer.Send(ctx, proto.NewPrompt("sunny")))
	require.NoError(t, peer.Send(ctx, proto.NewPipe([]byte("1"))))
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "sunny") }, time.Second, time.Millisecond)

	_, err = io.WriteString(feed, ExitCommand+"\n")
	require.NoError(t, err)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("console did not exit")
	}
	assert.Equal(t, "sunny\n", out.String())
}

func TestConsoleEndsWithInput(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, peer := establish(t, ctx)

	err := Run(ctx, s, strings.NewReader("one\ntwo\n"), io.Discard)
	require.NoError(t, err)

	for _, want := range []string{"one", "two"} {
		got, err := peer.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(got.Data))
	}
}

func TestConsoleEndsWithSession(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, peer := establish(t, ctx)

	in, _ := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- Run(ctx, s, in, io.Discard) }()

	require.NoError(t, peer.Send(ctx, proto.Bye()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("console did not exit")
	}
}
