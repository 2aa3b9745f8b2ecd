package bacnet

import (
	"errors"
	"fmt"
	"net"
)

// ErrNoIPv4 is returned when no usable IPv4 address is configured.
var ErrNoIPv4 = errors.New("bacnet: no non-loopback IPv4 address")

// LocalIPv4 returns the first non-loopback IPv4 address of an up interface.
// When ifaceName is set only that interface is considered.
func LocalIPv4(ifaceName string) (net.IP, error) {
	var ifaces []net.Interface
	if ifaceName != "" {
		intf, err := net.InterfaceByName(ifaceName)
		if err != nil {
			return nil, fmt.Errorf("could not find interface %s: %w", ifaceName, err)
		}
		ifaces = []net.Interface{*intf}
	} else {
		all, err := net.Interfaces()
		if err != nil {
			return nil, fmt.Errorf("could not list interfaces: %w", err)
		}
		ifaces = all
	}

	for _, intf := range ifaces {
		if intf.Flags&net.FlagUp == 0 || intf.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := intf.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ip := ipnet.IP.To4(); ip != nil {
					return ip, nil
				}
			}
		}
	}
	return nil, ErrNoIPv4
}

// BroadcastAddress returns the directed broadcast address of ip's subnet with
// the given prefix length.
func BroadcastAddress(ip net.IP, bits int) (net.IP, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("%s is not an IPv4 address", ip)
	}
	if bits < 0 || bits > 32 {
		return nil, fmt.Errorf("invalid prefix length %d", bits)
	}
	mask := net.CIDRMask(bits, 32)
	broadcastIP := make(net.IP, len(ip4))
	for i := 0; i < len(ip4); i++ {
		broadcastIP[i] = ip4[i] | (^mask[i])
	}
	return broadcastIP, nil
}
