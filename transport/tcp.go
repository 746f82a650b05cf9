package transport

import (
	"context"
	"io"
	"net"
	"time"
)

// TCPDialer opens a TCP connection.
type TCPDialer struct {
	Address   string
	Timeout   time.Duration // dial timeout, 0 for none beyond ctx
	KeepAlive time.Duration // 0 uses the net package default
	NoDelay   bool          // disable Nagle's algorithm
}

func (d *TCPDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	nd := net.Dialer{
		Timeout:   d.Timeout,
		KeepAlive: d.KeepAlive,
	}
	conn, err := nd.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, err
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(d.NoDelay); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func (d *TCPDialer) String() string {
	return "tcp://" + d.Address
}
