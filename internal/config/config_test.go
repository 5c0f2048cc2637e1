package config_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iscsi-gateway/iscsi-gwd/internal/config"
)

var sampleSnapshot = `{
	"created": "2026/03/10 09:12:44",
	"updated": "2026/03/11 17:40:02",
	"epoch": 6,
	"version": 3,
	"gateways": {
		"iqn": "iqn.2003-01.com.example.iscsi-gw:ceph-igw",
		"ip_list": ["10.0.0.1", "10.0.0.2"],
		"ceph-gw-1": {
			"portal_ip_address": "10.0.0.1",
			"gateway_ip_list": ["10.0.0.1", "10.0.0.2"],
			"inactive_portal_ips": ["10.0.0.2"],
			"tpgs": 2,
			"active_luns": 1
		},
		"ceph-gw-2": {
			"portal_ip_address": "10.0.0.2",
			"gateway_ip_list": ["10.0.0.1", "10.0.0.2"],
			"inactive_portal_ips": ["10.0.0.1"],
			"tpgs": 2,
			"active_luns": 0
		}
	},
	"disks": {
		"rbd.disk_1": {
			"pool": "rbd",
			"image": "disk_1",
			"owner": "ceph-gw-1",
			"dm_device": "/dev/mapper/0-9fc5e6a4"
		}
	},
	"clients": {
		"iqn.1994-05.com.redhat:rh7-client": {
			"auth": {"chap": "client/secret123"},
			"luns": {"rbd.disk_1": {"lun_id": 0}}
		}
	}
}`

func TestDecodeSnapshot(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	require.NoError(t, json.Unmarshal([]byte(sampleSnapshot), &cfg))

	require.Equal(t, 3, cfg.Version)
	require.Equal(t, 6, cfg.Epoch)
	require.True(t, cfg.HasGateways())
	require.Equal(t, "iqn.2003-01.com.example.iscsi-gw:ceph-igw", cfg.Gateways.IQN)
	require.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.Gateways.IPList)

	// The target-wide keys must not leak into the host entries.
	require.Len(t, cfg.Gateways.Hosts, 2)

	entry, ok := cfg.Gateway("ceph-gw-1")
	require.True(t, ok)
	require.Equal(t, "10.0.0.1", entry.PortalIPAddress)
	require.Equal(t, 2, entry.TPGs)

	_, ok = cfg.Gateway("ceph-gw-9")
	require.False(t, ok)

	require.Equal(t, []string{"rbd.disk_1"}, cfg.DiskKeys())
	require.Equal(t, "/dev/mapper/0-9fc5e6a4", cfg.Disks["rbd.disk_1"].DMDevice)

	require.Equal(t, []string{"iqn.1994-05.com.redhat:rh7-client"}, cfg.ClientIQNs())
	require.Equal(t, []int{0}, cfg.Clients["iqn.1994-05.com.redhat:rh7-client"].GrantedLUNs())
}

func TestDecodeSnapshotWithoutGateways(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	require.NoError(t, json.Unmarshal([]byte(`{"version": 1, "gateways": {}, "disks": {}, "clients": {}}`), &cfg))
	require.False(t, cfg.HasGateways())
	require.Empty(t, cfg.DiskKeys())
}

func TestGatewaySectionRoundTrip(t *testing.T) {
	t.Parallel()

	section := config.GatewaySection{
		IQN:    "iqn.2003-01.com.example.iscsi-gw:ceph-igw",
		IPList: []string{"10.0.0.1"},
		Hosts: map[string]config.GatewayEntry{
			"ceph-gw-1": {PortalIPAddress: "10.0.0.1", TPGs: 1},
		},
	}

	body, err := json.Marshal(section)
	require.NoError(t, err)

	var decoded config.GatewaySection

	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Equal(t, section, decoded)
}
