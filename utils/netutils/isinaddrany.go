package netutils

import "net"

// IsInAddrAny reports whether addr is empty or an unspecified address, which
// can be bound to but never dialed.
func IsInAddrAny(addr string) bool {
	if addr == "" || addr == "::/0" || addr == "0.0.0.0/0" {
		return true
	}

	ip := net.ParseIP(addr)
	return ip != nil && ip.IsUnspecified()
}
