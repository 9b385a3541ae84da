package lockservice

import (
	"net"
	"os"
)

// Identity describes this process as "<hostname>[#<description>] (<ip>)".
// It is written to the lock record so that waiting processes can report who
// holds the lock.
func Identity(description string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	if description != "" {
		host += "#" + description
	}
	return host + " (" + localAddress() + ")"
}

// localAddress returns the first non-loopback IPv4 address, falling back to
// the first non-loopback IPv6 address and then to the loopback address.
func localAddress() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}

	var v6 string
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || ipNet.IP.IsLinkLocalUnicast() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String()
		}
		if v6 == "" {
			v6 = ipNet.IP.String()
		}
	}
	if v6 != "" {
		return v6
	}
	return "127.0.0.1"
}
