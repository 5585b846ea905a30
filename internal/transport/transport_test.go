package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackway/internal/proto"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msg := proto.NewControl(proto.CodeOK, []byte("token-bytes"))
	require.NoError(t, WriteFrame(&buf, msg))
	assert.Equal(t, uint32(buf.Len()-4), binary.BigEndian.Uint32(buf.Bytes()[:4]))

	var got proto.Message
	require.NoError(t, ReadFrame(&buf, &got))
	assert.Equal(t, msg, got)
}

func TestReadFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(MaxFrameSize+1)))
	var got proto.Message
	err := ReadFrame(&buf, &got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frame too large")
}

func TestFramedOverNetPipe(t *testing.T) {
	ctx := testContext(t)
	a, b := net.Pipe()
	left, right := NewFramed(a), NewFramed(b)

	go func() { _ = left.Send(ctx, proto.NewPipe([]byte("1 + 1"))) }()
	got, err := right.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, proto.Pipe, got.Type)
	assert.Equal(t, "1 + 1", string(got.Data))

	require.NoError(t, left.Close())
	_, err = right.Recv(ctx)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestFramedRecvHonoursContext(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	right := NewFramed(b)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := right.Recv(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestPipeDeliversThenCloses(t *testing.T) {
	ctx := testContext(t)
	a, b := Pipe()
	require.NoError(t, a.Send(ctx, proto.Hello()))
	require.NoError(t, a.Close())

	got, err := b.Recv(ctx)
	require.NoError(t, err)
	assert.True(t, got.Is(proto.CodeHello))

	_, err = b.Recv(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, b.Send(ctx, proto.Bye()), ErrClosed)
}

func TestWebSocketRoundTrip(t *testing.T) {
	ctx := testContext(t)
	auth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		conn, err := AcceptWebSocket(w, r)
		if err != nil {
			return
		}
		defer conn.Close()
		msg, err := conn.Recv(r.Context())
		if err != nil {
			return
		}
		_ = conn.Send(r.Context(), proto.NewPipe(append([]byte("echo:"), msg.Data...)))
		_, _ = conn.Recv(r.Context())
	}))
	defer srv.Close()

	addr := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := Dial(ctx, addr, "tok")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send(ctx, proto.NewPipe([]byte("hi"))))
	got, err := conn.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", string(got.Data))
	assert.Equal(t, "Bearer tok", <-auth)
}

func TestDialRejectsUnknownScheme(t *testing.T) {
	ctx := testContext(t)
	_, err := Dial(ctx, "ftp://example.com", "")
	assert.Error(t, err)
	_, err = Dial(ctx, "localhost:9000", "")
	assert.Error(t, err)
}
