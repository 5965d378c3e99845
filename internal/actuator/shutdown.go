// Package actuator talks to the Spring Boot actuator endpoints of the
// supervised server: the shutdown endpoint used for cooperative stop, and
// the Prometheus endpoint scraped for dashboard metrics.
package actuator

import (
	"fmt"
	"strings"
	"time"

	"github.com/randomizedcoder/go-jar-supervisor/internal/errkind"
	"github.com/randomizedcoder/go-jar-supervisor/internal/rawhttp"
)

const (
	// DefaultShutdownPath is the actuator endpoint that stops the server.
	DefaultShutdownPath = "/actuator/shutdown"

	// DefaultUserAgent identifies the supervisor to the management endpoint.
	DefaultUserAgent = "go-jar-supervisor/1.0"

	// previewLength is how many characters of an unrecognised response are
	// kept in the error.
	previewLength = 200
)

// Sender performs one raw HTTP exchange. *rawhttp.Client implements it.
type Sender interface {
	Send(hostPort, request string) (string, error)
}

// Negotiator requests a graceful shutdown through the management endpoint.
type Negotiator struct {
	// Path is the shutdown endpoint path. Empty means DefaultShutdownPath.
	Path string

	// UserAgent is sent in the User-Agent header. Empty means DefaultUserAgent.
	UserAgent string

	// Sender carries the request. Nil means a rawhttp.Client with Timeout,
	// narrated through Narrate.
	Sender Sender

	// Timeout bounds the write and the read of the default sender.
	// Zero means rawhttp.DefaultTimeout.
	Timeout time.Duration

	// Narrate receives a human-readable line for every step of the exchange.
	Narrate func(line string)
}

// BuildShutdownRequest returns the literal request sent to host.
func BuildShutdownRequest(host, path, userAgent string) string {
	if path == "" {
		path = DefaultShutdownPath
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return "POST " + path + " HTTP/1.1\r\n" +
		"Host: " + host + "\r\n" +
		"User-Agent: " + userAgent + "\r\n" +
		"Accept: application/json\r\n" +
		"Content-Type: application/json\r\n" +
		"Content-Length: 0\r\n" +
		"Connection: close\r\n" +
		"\r\n"
}

// AttemptGracefulShutdown posts the shutdown request to managementHost
// (host:port) and classifies the answer. A nil error means the server
// accepted the request; it does not mean the server has exited.
func (n *Negotiator) AttemptGracefulShutdown(managementHost string) error {
	path := n.Path
	if path == "" {
		path = DefaultShutdownPath
	}
	n.narrate(fmt.Sprintf("Sending shutdown request to %s...", path))

	request := BuildShutdownRequest(managementHost, path, n.UserAgent)

	response, err := n.sender().Send(managementHost, request)
	if err != nil {
		return errkind.Wrap(errkind.KindTransportError, err, "shutdown request failed")
	}

	n.narrate(fmt.Sprintf("Full response from server:\n%s", response))

	return ClassifyResponse(response, path)
}

// ClassifyResponse maps raw response text to a shutdown outcome by substring
// matching. The checks run in a fixed order and the first match wins, so a
// response containing both "200 OK" and "404 Not Found" is a success.
func ClassifyResponse(response, path string) error {
	switch {
	case strings.Contains(response, "200 OK"),
		strings.Contains(response, "204 No Content"),
		strings.Contains(response, "Shutting down"):
		return nil
	case strings.Contains(response, "404 Not Found"):
		return errkind.Newf(errkind.KindEndpointNotFound, "endpoint %s not found", path)
	case strings.Contains(response, "405 Method Not Allowed"):
		return errkind.New(errkind.KindMethodNotAllowed, "method POST not allowed")
	case strings.Contains(response, "401 Unauthorized"),
		strings.Contains(response, "403 Forbidden"):
		return errkind.Newf(errkind.KindAuthenticationRequired, "authentication required for %s", path)
	default:
		return errkind.Newf(errkind.KindUnexpectedResponse, "unexpected response: %s", preview(response))
	}
}

// preview returns at most previewLength characters of s.
func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLength {
		return s
	}
	return string(r[:previewLength])
}

func (n *Negotiator) sender() Sender {
	if n.Sender != nil {
		return n.Sender
	}
	return &rawhttp.Client{
		Timeout: n.Timeout,
		Hooks: rawhttp.Hooks{
			OnConnect: func(host string) {
				n.narrate(fmt.Sprintf("Connecting to %s...", host))
			},
			OnConnected: func() {
				n.narrate("Connection established, sending request...")
			},
			OnRequestSent: func() {
				n.narrate("Request sent, reading response...")
			},
			OnResponse: func(bytes int) {
				n.narrate(fmt.Sprintf("Received %d bytes of response", bytes))
			},
		},
	}
}

func (n *Negotiator) narrate(line string) {
	if n.Narrate != nil {
		n.Narrate(line)
	}
}
