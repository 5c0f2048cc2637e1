// Package rbd ensures the backing block devices for exported LUNs are
// attached and visible through their mapper paths.
package rbd

import (
	"context"
	"log/slog"
	"os"
)

// Mapper attaches rbd images to the local host.
type Mapper interface {
	// Map attaches the image and returns the kernel device path.
	Map(ctx context.Context, pool string, image string) (string, error)

	// WaitForDevice waits, within a fixed bound, for the given path to
	// appear.
	WaitForDevice(ctx context.Context, path string) error
}

// Probe confirms that a disk's backing device is attached. It is idempotent:
// once a device is attached, further calls are plain existence checks.
type Probe struct {
	Mapper Mapper
}

// Ready returns nil once the mapper device for pool/image exists, mapping
// the image first if needed.
func (p *Probe) Ready(ctx context.Context, pool string, image string, device string) error {
	_, err := os.Stat(device)
	if err == nil {
		return nil
	}

	slog.Debug("Mapper device absent, mapping image", "pool", pool, "image", image, "device", device)

	_, err = p.Mapper.Map(ctx, pool, image)
	if err != nil {
		return err
	}

	return p.Mapper.WaitForDevice(ctx, device)
}
