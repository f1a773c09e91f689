package httpapi

import (
	"net"
	"strings"
)

// NetInfo reports link state for /status.
type NetInfo interface {
	Link() (connected bool, ip string)
}

// Interfaces reads link state from the host's network interfaces. Name
// selects one interface; empty picks the first non-loopback interface that
// is up and has an IPv4 address.
type Interfaces struct {
	Name string

	// list is swapped in tests.
	list func() ([]net.Interface, error)
	// addrs is swapped in tests.
	addrs func(net.Interface) ([]net.Addr, error)
}

func (n Interfaces) Link() (bool, string) {
	list := n.list
	if list == nil {
		list = net.Interfaces
	}
	addrs := n.addrs
	if addrs == nil {
		addrs = func(ifi net.Interface) ([]net.Addr, error) { return ifi.Addrs() }
	}

	ifs, err := list()
	if err != nil {
		return false, unspecifiedIP
	}
	want := strings.TrimSpace(n.Name)
	for _, ifi := range ifs {
		if want != "" && ifi.Name != want {
			continue
		}
		if want == "" && ifi.Flags&net.FlagLoopback != 0 {
			continue
		}
		if ifi.Flags&net.FlagUp == 0 {
			continue
		}
		as, err := addrs(ifi)
		if err != nil {
			continue
		}
		for _, a := range as {
			if ip := ipv4Of(a); ip != "" {
				return true, ip
			}
		}
	}
	return false, unspecifiedIP
}

// unspecifiedIP mirrors what a disconnected station reports.
const unspecifiedIP = "0.0.0.0"

func ipv4Of(a net.Addr) string {
	var ip net.IP
	switch v := a.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ip4.String()
	}
	return ""
}

// StaticNet is a fixed NetInfo.
type StaticNet struct {
	Connected bool
	IP        string
}

func (s StaticNet) Link() (bool, string) { return s.Connected, s.IP }
