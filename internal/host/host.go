// Package host derives the local host facts used to select this gateway's
// slice of the shared configuration.
package host

import (
	"net"
	"os"
	"strings"
)

// Identity returns the short hostname (the first dot-separated label), which
// keys this host's entry in the shared configuration.
func Identity() (string, error) {
	name, err := os.Hostname()
	if err != nil {
		return "", err
	}

	short, _, _ := strings.Cut(name, ".")

	return short, nil
}

// IPv4Addresses returns the IPv4 addresses of every local network interface.
func IPv4Addresses() ([]string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	addresses := []string{}

	for _, iface := range interfaces {
		addrs, err := iface.Addrs()
		if err != nil {
			return nil, err
		}

		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}

			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}

			addresses = append(addresses, ip4.String())
		}
	}

	return addresses, nil
}

// FirstMatch returns the first entry of candidates that is also a local
// address.
func FirstMatch(candidates []string, local []string) (string, bool) {
	localSet := make(map[string]struct{}, len(local))
	for _, addr := range local {
		localSet[addr] = struct{}{}
	}

	for _, candidate := range candidates {
		_, ok := localSet[candidate]
		if ok {
			return candidate, true
		}
	}

	return "", false
}
