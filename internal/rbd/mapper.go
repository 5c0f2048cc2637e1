package rbd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lxc/incus/v6/shared/subprocess"
)

// CLIMapper attaches images through the rbd CLI and polls for the mapper
// device to appear.
type CLIMapper struct {
	User string
	Wait time.Duration
	Poll time.Duration
}

// Map attaches pool/image and returns the kernel device path.
func (m *CLIMapper) Map(ctx context.Context, pool string, image string) (string, error) {
	output, err := subprocess.RunCommandContext(ctx, "rbd", "--id", m.User, "device", "map", pool+"/"+image)
	if err != nil {
		// Mapping an already-mapped image is not a failure.
		if strings.Contains(err.Error(), "already mapped") {
			return "", nil
		}

		return "", err
	}

	return strings.TrimSpace(output), nil
}

// WaitForDevice polls for the path until it appears or the bound expires.
func (m *CLIMapper) WaitForDevice(ctx context.Context, path string) error {
	deadline := time.Now().Add(m.Wait)

	for {
		_, err := os.Stat(path)
		if err == nil {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("device %q did not appear within %v", path, m.Wait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.Poll):
		}
	}
}
