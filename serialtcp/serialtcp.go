// Package serialtcp gives access to firmware exposed over TCP, as done by the serve command.
package serialtcp

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/fornellas/slogxt/log"
)

// Port implements grbl.Port over a TCP connection.
type Port struct {
	conn        net.Conn
	readTimeout time.Duration
}

// Dial connects to address, giving up after timeout.
func Dial(ctx context.Context, address string, timeout time.Duration) (*Port, error) {
	logger := log.MustLogger(ctx)
	logger.Info("Dialing", "address", address, "timeout", timeout)
	dialer := &net.Dialer{
		Timeout: timeout,
	}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			return nil, errors.Join(err, conn.Close())
		}
	}
	return NewPort(conn), nil
}

// NewPort wraps an established connection.
func NewPort(conn net.Conn) *Port {
	return &Port{conn: conn}
}

// Read reads from the connection. When a read timeout is set and no data arrives in time,
// it returns an error matching os.ErrDeadlineExceeded.
func (p *Port) Read(b []byte) (int, error) {
	deadline := time.Time{}
	if p.readTimeout > 0 {
		deadline = time.Now().Add(p.readTimeout)
	}
	if err := p.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	n, err := p.conn.Read(b)
	if err != nil && n > 0 && errors.Is(err, os.ErrDeadlineExceeded) {
		err = nil
	}
	return n, err
}

func (p *Port) Write(b []byte) (int, error) {
	return p.conn.Write(b)
}

// SetReadTimeout sets how long Read blocks waiting for data; zero blocks forever.
func (p *Port) SetReadTimeout(t time.Duration) error {
	if t < 0 {
		return errors.New("negative read timeout")
	}
	p.readTimeout = t
	return nil
}

func (p *Port) Close() error {
	return p.conn.Close()
}
