// Package client implements the line-protocol client side: one JSON
// object per line over TCP. The name server uses it to proxy
// control-plane ops to storage servers; tests use it as the user-facing
// client.
package client

import (
	"fmt"
	"net"
	"time"

	"github.com/quillfs/quill/pkg/proto"
)

// DefaultDialTimeout bounds outbound connects.
const DefaultDialTimeout = 5 * time.Second

// Client is one open protocol connection.
type Client struct {
	conn *proto.Conn
}

// Dial connects to addr.
func Dial(addr string) (*Client, error) {
	return DialTimeout(addr, DefaultDialTimeout)
}

// DialTimeout connects to addr with an explicit connect timeout.
func DialTimeout(addr string, timeout time.Duration) (*Client, error) {
	nc, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: proto.NewConn(nc)}, nil
}

// Do sends one request and reads one response.
func (c *Client) Do(req *proto.Message) (*proto.Message, error) {
	if err := c.conn.Write(req); err != nil {
		return nil, err
	}
	return c.conn.Read()
}

// Send writes a message without waiting for a response.
func (c *Client) Send(req *proto.Message) error {
	return c.conn.Write(req)
}

// Recv reads the next message. Used for multi-response ops like STREAM.
func (c *Client) Recv() (*proto.Message, error) {
	return c.conn.Read()
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call performs a single request/response exchange on a short-lived
// connection.
func Call(addr string, req *proto.Message) (*proto.Message, error) {
	c, err := Dial(addr)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Do(req)
}
