package netutils

import (
	"net"
	"strconv"
)

// HostPort joins a host and port, bracketing IPv6 hosts.
func HostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
