package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Error taxonomy for the session layer. errTransport is fatal to the current
// connection, errTimeout is recoverable and the caller retries its own wait,
// errProtocol marks a malformed or unexpected frame, errValidation rejects a
// bad value before any network I/O happens.
var (
	errTransport  = errors.New("transport failure")
	errTimeout    = errors.New("receive timed out")
	errProtocol   = errors.New("protocol violation")
	errValidation = errors.New("invalid value")
)

const (
	connectTimeout = 5 * time.Second
	// chunkTimeout bounds a single receiveChunk call. Worker loops notice
	// their stop flags with at most this latency.
	chunkTimeout = time.Second
	// maxFrameLen bounds a single outgoing frame; the server reads into a
	// fixed buffer of the same size.
	maxFrameLen   = 1024
	recvChunkSize = 1024
)

// netClient owns a single stream connection to the game server. It knows
// nothing about the protocol; the session layer serializes all access.
type netClient struct {
	host string
	port int
	conn net.Conn
}

func newNetClient(host string, port int) *netClient {
	return &netClient{host: host, port: port}
}

// address returns the server address in host:port form.
func (c *netClient) address() string {
	return net.JoinHostPort(c.host, fmt.Sprintf("%d", c.port))
}

func (c *netClient) isConnected() bool {
	return c.conn != nil
}

// connect opens the stream connection with a bounded dial timeout.
func (c *netClient) connect() error {
	if c.conn != nil {
		return fmt.Errorf("%w: already connected to %v", errTransport, c.address())
	}
	conn, err := net.DialTimeout("tcp", c.address(), connectTimeout)
	if err != nil {
		return fmt.Errorf("%w: connect %v: %v", errTransport, c.address(), err)
	}
	c.conn = conn
	return nil
}

// send writes the whole text to the connection.
func (c *netClient) send(text string) error {
	if c.conn == nil {
		return fmt.Errorf("%w: send to %v: not connected", errTransport, c.address())
	}
	if len(text) > maxFrameLen {
		return fmt.Errorf("%w: frame of %d bytes exceeds %d", errValidation, len(text), maxFrameLen)
	}
	if err := writeAll(c.conn, []byte(text)); err != nil {
		return fmt.Errorf("%w: send to %v: %v", errTransport, c.address(), err)
	}
	return nil
}

// receiveChunk performs one blocking read bounded by chunkTimeout. A timeout
// is recoverable; anything else tears the connection down at the caller.
func (c *netClient) receiveChunk() (string, error) {
	if c.conn == nil {
		return "", fmt.Errorf("%w: receive from %v: not connected", errTransport, c.address())
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(chunkTimeout)); err != nil {
		return "", fmt.Errorf("%w: set deadline: %v", errTransport, err)
	}
	buf := make([]byte, recvChunkSize)
	n, err := c.conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", errTimeout
		}
		return "", fmt.Errorf("%w: receive from %v: %v", errTransport, c.address(), err)
	}
	return string(buf[:n]), nil
}

// disconnect closes the connection. Safe to call repeatedly.
func (c *netClient) disconnect() {
	if c.conn == nil {
		return
	}
	c.conn.Close()
	c.conn = nil
}

// writeAll writes the entirety of data to conn, returning an error if the
// write fails or is short.
func writeAll(conn net.Conn, data []byte) error {
	for len(data) > 0 {
		n, err := conn.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	return nil
}
