// Package robot delivers programs to the robot controller over a raw TCP
// session: connect, write the program text followed by one newline, flush,
// close. There is no reply channel.
package robot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"sorter/internal/apperr"
)

// DefaultTimeout bounds connect+send when neither the caller nor the
// client options give one.
const DefaultTimeout = 2 * time.Second

// DialFunc opens the byte stream. net.Dialer.DialContext satisfies it.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Client sends programs to one fixed host:port.
type Client struct {
	host    string
	port    int
	timeout time.Duration
	dial    DialFunc
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the default connect+send bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDialer replaces the TCP dialer.
func WithDialer(dial DialFunc) Option {
	return func(c *Client) {
		if dial != nil {
			c.dial = dial
		}
	}
}

func NewClient(host string, port int, opts ...Option) *Client {
	c := &Client{
		host:    host,
		port:    port,
		timeout: DefaultTimeout,
		dial:    (&net.Dialer{}).DialContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Addr returns host:port.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

var errSendTimeout = errors.New("robot send timer expired")

// Send connects, writes program and flushes. timeout <= 0 uses the client
// default. The effective cutoff is whichever comes first of ctx and the
// timeout.
//
// Errors: an empty program is ErrInvalidArgument and never dials; the
// internal timer firing (while ctx is still live) is a *TimeoutError; ctx
// ending is returned as ctx.Err(); anything else is a *TransportError.
func (c *Client) Send(ctx context.Context, program string, timeout time.Duration) error {
	body := strings.TrimRightFunc(program, unicode.IsSpace)
	if body == "" {
		return fmt.Errorf("%w: program is empty", apperr.ErrInvalidArgument)
	}
	if timeout <= 0 {
		timeout = c.timeout
	}

	sendCtx, cancel := context.WithTimeoutCause(ctx, timeout, errSendTimeout)
	defer cancel()

	conn, err := c.dial(sendCtx, "tcp", c.Addr())
	if err != nil {
		return c.classify(ctx, sendCtx, timeout, "connect", err)
	}
	defer conn.Close()

	if deadline, ok := sendCtx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	// a cancelled ctx unblocks a write stuck on a full socket buffer
	stop := context.AfterFunc(sendCtx, func() {
		_ = conn.SetWriteDeadline(time.Unix(1, 0))
	})
	defer stop()

	w := bufio.NewWriter(conn)
	if _, err := w.WriteString(body + "\n"); err != nil {
		return c.classify(ctx, sendCtx, timeout, "write", err)
	}
	if err := w.Flush(); err != nil {
		return c.classify(ctx, sendCtx, timeout, "write", err)
	}
	return nil
}

// classify decides which of the two cancellation sources ended the attempt.
// The caller's ctx wins ties: its cancellation is not a dispatch fault.
func (c *Client) classify(ctx, sendCtx context.Context, timeout time.Duration, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(context.Cause(sendCtx), errSendTimeout) || errors.Is(err, os.ErrDeadlineExceeded) {
		return &TimeoutError{Host: c.host, Port: c.port, Timeout: timeout, Op: op}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TimeoutError{Host: c.host, Port: c.port, Timeout: timeout, Op: op}
	}
	return &TransportError{Host: c.host, Port: c.port, Op: op, Err: err}
}
