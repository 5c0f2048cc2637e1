// Package settings handles the daemon-local configuration file.
package settings

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the expected location of the daemon settings file.
const DefaultPath = "/etc/ceph/iscsi-gateway.yaml"

// Settings holds the daemon-local configuration. The cluster-wide gateway
// definition lives in the shared configuration object, not here.
type Settings struct {
	// Pool is the rados pool holding the shared configuration object.
	Pool string `yaml:"pool"`

	// ConfigObject is the name of the shared configuration object.
	ConfigObject string `yaml:"config_object"`

	// CephUser is the cephx user passed to the ceph/rados/rbd tools.
	CephUser string `yaml:"ceph_user"`

	// LogFile receives the verbose diagnostic log stream.
	LogFile string `yaml:"log_file"`

	// DeviceWaitSeconds bounds the wait for a mapper device to appear.
	DeviceWaitSeconds int `yaml:"device_wait_seconds"`

	// DevicePollSeconds is the poll interval while waiting for a device.
	DevicePollSeconds int `yaml:"device_poll_seconds"`
}

// Default returns a Settings struct populated with default values.
func Default() *Settings {
	return &Settings{
		Pool:              "rbd",
		ConfigObject:      "gateway.conf",
		CephUser:          "admin",
		LogFile:           "/var/log/iscsi-gwd/iscsi-gwd.log",
		DeviceWaitSeconds: 30,
		DevicePollSeconds: 1,
	}
}

// Load parses the settings file at the given path. A missing file isn't an
// error and yields the defaults; a malformed file is.
func Load(path string) (*Settings, error) {
	s := Default()

	body, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}

		return nil, err
	}

	err = yaml.Unmarshal(body, s)
	if err != nil {
		return nil, fmt.Errorf("unable to parse settings file %q: %w", path, err)
	}

	if s.Pool == "" || s.ConfigObject == "" {
		return nil, fmt.Errorf("settings file %q must define a pool and config object", path)
	}

	if s.DeviceWaitSeconds <= 0 || s.DevicePollSeconds <= 0 {
		return nil, fmt.Errorf("settings file %q has a non-positive device wait or poll interval", path)
	}

	return s, nil
}

// DeviceWait returns the device wait bound as a duration.
func (s *Settings) DeviceWait() time.Duration {
	return time.Duration(s.DeviceWaitSeconds) * time.Second
}

// DevicePoll returns the device poll interval as a duration.
func (s *Settings) DevicePoll() time.Duration {
	return time.Duration(s.DevicePollSeconds) * time.Second
}
