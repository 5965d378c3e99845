// Package netprobe checks whether a local TCP port is accepting connections.
package netprobe

import (
	"net"
	"strconv"
)

// DefaultHost is the host probed by IsOpen.
const DefaultHost = "localhost"

// IsOpen reports whether a TCP connection to localhost:port succeeds.
// There is no explicit timeout beyond the dial's own blocking behaviour.
// Any connection opened is closed immediately.
func IsOpen(port int) bool {
	return Prober{}.IsOpen(port)
}

// Prober probes ports on a fixed host. The zero value probes localhost.
type Prober struct {
	Host string
}

// IsOpen reports whether a TCP connection to Host:port succeeds.
func (p Prober) IsOpen(port int) bool {
	host := p.Host
	if host == "" {
		host = DefaultHost
	}
	conn, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
