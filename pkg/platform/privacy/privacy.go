// Package privacy masks client identifiers before they reach logs.
package privacy

import (
	"net"
	"net/netip"
)

// AnonymizeIP keeps only the network part of an address: /24 for IPv4 and
// /48 for IPv6. It returns "unknown" for empty input and "invalid" for
// anything that does not parse as a bare address.
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	addr = addr.Unmap()
	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.WithZone("").Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.Addr().String()
}

// HostOnly strips the port from a RemoteAddr-style value.
func HostOnly(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
