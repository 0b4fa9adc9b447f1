// Package bridge implements the per-connection worker that streams a raw TCP
// client into a multipart upload and relays the upstream reply back.
package bridge

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// errReadAborted is returned by reads after Abort.
var errReadAborted = errors.New("client read aborted")

// aLongTimeAgo is a non-zero time in the past, used to interrupt a blocked read.
var aLongTimeAgo = time.Unix(1, 0)

// Conn is an accepted client connection with an idle timeout applied to every
// read and write, mirroring socket-level receive/send timeouts. The read side
// can be aborted from another goroutine.
type Conn struct {
	net.Conn
	timeout time.Duration

	mu      sync.Mutex
	aborted bool

	closeOnce sync.Once
	closeErr  error
}

// WrapConn applies timeout to c. A zero timeout disables deadlines. An error
// means the deadline could not be set and the connection should be dropped.
func WrapConn(c net.Conn, timeout time.Duration) (*Conn, error) {
	if timeout > 0 {
		if err := c.SetDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("set connection deadline: %w", err)
		}
	}
	return &Conn{Conn: c, timeout: timeout}, nil
}

// Read reads from the client, refreshing the read deadline first.
func (c *Conn) Read(p []byte) (int, error) {
	c.mu.Lock()
	if c.aborted {
		c.mu.Unlock()
		return 0, errReadAborted
	}
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			c.mu.Unlock()
			return 0, fmt.Errorf("set read deadline: %w", err)
		}
	}
	c.mu.Unlock()

	n, err := c.Conn.Read(p)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) && c.isAborted() {
		return n, errReadAborted
	}
	return n, err
}

// Write writes to the client, refreshing the write deadline first.
func (c *Conn) Write(p []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, fmt.Errorf("set write deadline: %w", err)
		}
	}
	return c.Conn.Write(p)
}

// AbortRead unblocks any pending Read and makes later reads fail with
// errReadAborted. Writes are unaffected.
func (c *Conn) AbortRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aborted {
		return
	}
	c.aborted = true
	_ = c.Conn.SetReadDeadline(aLongTimeAgo)
}

func (c *Conn) isAborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

// Close closes the underlying connection once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.Conn.Close()
	})
	return c.closeErr
}

// Timeout returns the idle timeout applied to this connection.
func (c *Conn) Timeout() time.Duration {
	return c.timeout
}
