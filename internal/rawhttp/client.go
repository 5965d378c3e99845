// Package rawhttp performs a single literal HTTP exchange over a plain TCP
// connection.
//
// It is not an HTTP client: the caller supplies the complete
// request text (including Content-Length and Connection: close) and gets the
// raw response text back. There is no keep-alive, no redirect handling and no
// status-line parsing.
package rawhttp

import (
	"errors"
	"io"
	"net"
	"os"
	"time"
	"unicode/utf8"

	"github.com/randomizedcoder/go-jar-supervisor/internal/errkind"
)

const (
	// DefaultTimeout bounds both the write and the read of one exchange.
	DefaultTimeout = 5 * time.Second

	// readBufferSize is the fixed chunk size used while draining the response.
	readBufferSize = 1024
)

// Hooks observe the progress of an exchange. All fields are optional.
type Hooks struct {
	// OnConnect is called before dialing.
	OnConnect func(hostPort string)

	// OnConnected is called once the TCP connection is established.
	OnConnected func()

	// OnRequestSent is called after the full request has been written.
	OnRequestSent func()

	// OnResponse is called with the total number of bytes read.
	OnResponse func(n int)
}

// Client sends raw requests. The zero value is usable.
type Client struct {
	// Timeout sets the read and write deadlines. Zero means DefaultTimeout.
	Timeout time.Duration

	Hooks Hooks

	// dial is replaced in tests.
	dial func(network, address string) (net.Conn, error)
}

// Send opens a TCP connection to hostPort, writes request as-is and reads the
// response until the peer closes the connection or the read deadline
// elapses. A deadline expiry is not an error: whatever was read so far is
// the response.
func Send(hostPort, request string) (string, error) {
	var c Client
	return c.Send(hostPort, request)
}

// Send performs one exchange. See the package-level Send.
func (c *Client) Send(hostPort, request string) (string, error) {
	if c.Hooks.OnConnect != nil {
		c.Hooks.OnConnect(hostPort)
	}

	dial := c.dial
	if dial == nil {
		dial = net.Dial
	}
	conn, err := dial("tcp", hostPort)
	if err != nil {
		return "", errkind.Wrapf(errkind.KindConnectionFailed, err, "failed to connect to %s", hostPort)
	}
	defer conn.Close()

	if c.Hooks.OnConnected != nil {
		c.Hooks.OnConnected()
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return "", errkind.Wrap(errkind.KindConnectionFailed, err, "failed to set read deadline")
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return "", errkind.Wrap(errkind.KindConnectionFailed, err, "failed to set write deadline")
	}

	if err := writeAll(conn, []byte(request)); err != nil {
		return "", errkind.Wrap(errkind.KindWriteFailed, err, "failed to send request")
	}

	if c.Hooks.OnRequestSent != nil {
		c.Hooks.OnRequestSent()
	}

	response, err := readAll(conn)
	if err != nil {
		return "", errkind.Wrap(errkind.KindReadFailed, err, "failed to read response")
	}

	if c.Hooks.OnResponse != nil {
		c.Hooks.OnResponse(len(response))
	}

	if !utf8.Valid(response) {
		return "", errkind.New(errkind.KindInvalidEncoding, "response is not valid UTF-8")
	}
	return string(response), nil
}

// writeAll writes b completely.
func writeAll(conn net.Conn, b []byte) error {
	for len(b) > 0 {
		n, err := conn.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// readAll drains conn until EOF or the read deadline.
func readAll(conn net.Conn) ([]byte, error) {
	var response []byte
	buf := make([]byte, readBufferSize)

	for {
		n, err := conn.Read(buf)
		response = append(response, buf[:n]...)
		if err == nil {
			if n == 0 {
				return response, nil
			}
			continue
		}
		if errors.Is(err, io.EOF) || isTimeout(err) {
			return response, nil
		}
		return nil, err
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
