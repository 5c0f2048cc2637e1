// Package config defines the shared gateway configuration snapshot and the
// store it is read from.
package config

import (
	"encoding/json"
	"sort"
)

// Config is a versioned snapshot of the cluster-wide gateway configuration.
// It is read-only to the daemon; the external store owns its contents.
type Config struct {
	Version int    `json:"version"`
	Epoch   int    `json:"epoch"`
	Created string `json:"created"`
	Updated string `json:"updated"`

	Gateways GatewaySection    `json:"gateways"`
	Disks    map[string]Disk   `json:"disks"`
	Clients  map[string]Client `json:"clients"`
}

// GatewaySection holds the target-wide settings plus the per-host gateway
// entries. On the wire it is a single JSON object mixing the "iqn" and
// "ip_list" keys with entries keyed by short hostname.
type GatewaySection struct {
	IQN    string
	IPList []string
	Hosts  map[string]GatewayEntry
}

// GatewayEntry describes one gateway host's portal allocation.
type GatewayEntry struct {
	PortalIPAddress   string   `json:"portal_ip_address"`
	GatewayIPList     []string `json:"gateway_ip_list"`
	InactivePortalIPs []string `json:"inactive_portal_ips"`
	TPGs              int      `json:"tpgs"`
	ActiveLUNs        int      `json:"active_luns"`
}

// Disk describes one exported rbd image, keyed "pool.image" in the snapshot.
type Disk struct {
	Pool     string `json:"pool"`
	Image    string `json:"image"`
	Owner    string `json:"owner"`
	DMDevice string `json:"dm_device"`
	WWN      string `json:"wwn,omitempty"`
}

// Client describes one initiator, keyed by its IQN in the snapshot.
type Client struct {
	Auth Auth                `json:"auth"`
	LUNs map[string]LUNGrant `json:"luns"`
}

// Auth holds the client's CHAP credentials as a "username/password" string.
type Auth struct {
	Chap string `json:"chap"`
}

// LUNGrant maps one disk key to the LUN id the client sees it as.
type LUNGrant struct {
	LunID int `json:"lun_id"`
}

// UnmarshalJSON splits the mixed gateways object into the known target-wide
// keys and the per-host entries.
func (g *GatewaySection) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}

	g.Hosts = map[string]GatewayEntry{}

	for key, value := range raw {
		switch key {
		case "iqn":
			err = json.Unmarshal(value, &g.IQN)
		case "ip_list":
			err = json.Unmarshal(value, &g.IPList)
		default:
			var entry GatewayEntry

			err = json.Unmarshal(value, &entry)
			if err == nil {
				g.Hosts[key] = entry
			}
		}

		if err != nil {
			return err
		}
	}

	return nil
}

// MarshalJSON restores the mixed gateways object layout.
func (g GatewaySection) MarshalJSON() ([]byte, error) {
	raw := map[string]any{}

	if g.IQN != "" {
		raw["iqn"] = g.IQN
	}

	if g.IPList != nil {
		raw["ip_list"] = g.IPList
	}

	for host, entry := range g.Hosts {
		raw[host] = entry
	}

	return json.Marshal(raw)
}

// HasGateways reports whether the snapshot carries a gateway definition at all.
func (c *Config) HasGateways() bool {
	return c.Gateways.IQN != "" || len(c.Gateways.IPList) > 0 || len(c.Gateways.Hosts) > 0
}

// Gateway looks up the entry for the given short hostname.
func (c *Config) Gateway(host string) (GatewayEntry, bool) {
	entry, ok := c.Gateways.Hosts[host]

	return entry, ok
}

// DiskKeys returns the disk keys in a stable order.
func (c *Config) DiskKeys() []string {
	keys := make([]string, 0, len(c.Disks))
	for key := range c.Disks {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

// ClientIQNs returns the client initiator IQNs in a stable order.
func (c *Config) ClientIQNs() []string {
	iqns := make([]string, 0, len(c.Clients))
	for iqn := range c.Clients {
		iqns = append(iqns, iqn)
	}

	sort.Strings(iqns)

	return iqns
}

// GrantedLUNs returns the LUN ids granted to the client in ascending order.
func (c Client) GrantedLUNs() []int {
	ids := make([]int, 0, len(c.LUNs))
	for _, grant := range c.LUNs {
		ids = append(ids, grant.LunID)
	}

	sort.Ints(ids)

	return ids
}
