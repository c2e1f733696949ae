package proto

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// MaxLineBytes is the largest accepted wire line, newline included.
const MaxLineBytes = 8192

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrLineTooLong is returned when a peer sends a line over MaxLineBytes.
var ErrLineTooLong = fmt.Errorf("%w: line exceeds %d bytes", ErrBadRequest, MaxLineBytes)

// Conn wraps a TCP connection with newline-delimited JSON framing.
// Reads are single-consumer; writes are safe for concurrent use.
type Conn struct {
	nc net.Conn
	sc *bufio.Scanner

	wmu sync.Mutex
}

// NewConn wraps an established connection.
func NewConn(nc net.Conn) *Conn {
	sc := bufio.NewScanner(nc)
	sc.Buffer(make([]byte, 0, 4096), MaxLineBytes)
	return &Conn{nc: nc, sc: sc}
}

// Read blocks until the next full line and decodes it.
func (c *Conn) Read() (*Message, error) {
	if !c.sc.Scan() {
		if err := c.sc.Err(); err != nil {
			if err == bufio.ErrTooLong {
				return nil, ErrLineTooLong
			}
			return nil, err
		}
		return nil, net.ErrClosed
	}
	var m Message
	if err := json.Unmarshal(c.sc.Bytes(), &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return &m, nil
}

// Write encodes a message and sends it as one line.
func (c *Conn) Write(m *Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	b = append(b, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.nc.Write(b)
	return err
}

// SetDeadline sets the read and write deadlines on the underlying conn.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.nc.SetDeadline(t)
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}
