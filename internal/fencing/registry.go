package fencing

import (
	"context"
	"strings"

	"github.com/lxc/incus/v6/shared/subprocess"
)

// CephRegistry drives the cluster's OSD blacklist through the ceph CLI.
type CephRegistry struct {
	User string
}

// List returns the raw blacklist listing.
func (r *CephRegistry) List(ctx context.Context) (string, error) {
	stdout, stderr, err := subprocess.RunCommandSplit(ctx, nil, nil, "ceph", "--id", r.User, "osd", "blacklist", "ls")
	if err != nil {
		return "", err
	}

	// The count header lands on stderr while the entries go to stdout;
	// put it back in front so the listing matches its documented shape.
	if strings.TrimSpace(stderr) == "" {
		return stdout, nil
	}

	return strings.TrimRight(stderr, "\n") + "\n" + stdout, nil
}

// Remove asks the cluster to drop the given blacklist entry. The combined
// response is returned so the caller can check the confirmation phrase
// whichever stream carries it.
func (r *CephRegistry) Remove(ctx context.Context, token string) (string, error) {
	stdout, stderr, err := subprocess.RunCommandSplit(ctx, nil, nil, "ceph", "--id", r.User, "osd", "blacklist", "rm", token)
	if err != nil {
		return "", err
	}

	return stdout + stderr, nil
}
