package serialtcp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"github.com/fornellas/slogxt/log"
	"github.com/stretchr/testify/require"

	"github.com/fornellas/cncsender/grbl"
)

var _ grbl.Port = (*Port)(nil)

func testContext(t *testing.T) context.Context {
	return log.WithLogger(t.Context(), slog.New(slog.DiscardHandler))
}

// listen accepts a single connection, and hands it over through the returned channel.
func listen(t *testing.T) (string, <-chan net.Conn) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })
	connCh := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			close(connCh)
			return
		}
		t.Cleanup(func() { conn.Close() })
		connCh <- conn
	}()
	return listener.Addr().String(), connCh
}

func TestPort(t *testing.T) {
	ctx := testContext(t)
	address, connCh := listen(t)

	port, err := Dial(ctx, address, time.Second)
	require.NoError(t, err)
	defer func() { require.NoError(t, port.Close()) }()
	server := <-connCh
	require.NotNil(t, server)

	n, err := port.Write([]byte("$$\n"))
	require.NoError(t, err)
	require.Equal(t, 3, n)
	buf := make([]byte, 3)
	_, err = server.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "$$\n", string(buf))

	require.NoError(t, port.SetReadTimeout(10*time.Millisecond))
	_, err = port.Read(buf)
	require.True(t, errors.Is(err, os.ErrDeadlineExceeded))

	_, err = server.Write([]byte("ok\r\n"))
	require.NoError(t, err)
	require.NoError(t, port.SetReadTimeout(time.Second))
	buf = make([]byte, 16)
	n, err = port.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ok\r\n", string(buf[:n]))

	require.Error(t, port.SetReadTimeout(-1))
}

func TestPortConnection(t *testing.T) {
	ctx := testContext(t)
	address, connCh := listen(t)

	port, err := Dial(ctx, address, time.Second)
	require.NoError(t, err)
	conn, err := grbl.NewConnection(port)
	require.NoError(t, err)
	defer func() { require.NoError(t, conn.Close()) }()
	server := <-connCh
	require.NotNil(t, server)

	_, err = server.Write([]byte("Grbl 1.1h ['$' for help]\r\n"))
	require.NoError(t, err)
	var message grbl.Message
	require.Eventually(t, func() bool {
		message, err = conn.Poll(ctx)
		require.NoError(t, err)
		return message != nil
	}, 5*time.Second, time.Millisecond)
	require.IsType(t, &grbl.WelcomePushMessage{}, message)
}

func TestDialError(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := listener.Addr().String()
	require.NoError(t, listener.Close())

	_, err = Dial(testContext(t), address, time.Second)
	require.Error(t, err)
}
