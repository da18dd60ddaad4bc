package scraper

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
	"syscall"
)

// checkHost rejects hosts that name the local machine or a private
// network.
func checkHost(host string) error {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".internal") {
		return fmt.Errorf("host %q is not allowed", host)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return checkAddr(addr)
	}
	return nil
}

func checkAddr(addr netip.Addr) error {
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified() || addr.IsMulticast() {
		return fmt.Errorf("address %s is not allowed", addr)
	}
	// carrier-grade NAT
	if addr.Is4() && netip.MustParsePrefix("100.64.0.0/10").Contains(addr) {
		return fmt.Errorf("address %s is not allowed", addr)
	}
	return nil
}

// guardDial runs after DNS resolution, so names that resolve to private
// addresses are refused too.
func guardDial(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("unexpected dial address %q", address)
	}
	return checkAddr(addr)
}
