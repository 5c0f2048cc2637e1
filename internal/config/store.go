package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lxc/incus/v6/shared/subprocess"
)

// Store retrieves the shared configuration snapshot. The snapshot is always
// read in full before the caller mutates any local state.
type Store interface {
	Load(ctx context.Context) (*Config, error)
}

// RadosStore reads the configuration object from a rados pool through the
// rados CLI.
type RadosStore struct {
	Pool   string
	Object string
	User   string
}

// Load fetches and decodes the configuration object.
func (s *RadosStore) Load(ctx context.Context) (*Config, error) {
	output, err := subprocess.RunCommandContext(ctx, "rados", "-p", s.Pool, "--id", s.User, "get", s.Object, "-")
	if err != nil {
		return nil, fmt.Errorf("unable to read %s/%s: %w", s.Pool, s.Object, err)
	}

	if strings.TrimSpace(output) == "" {
		return nil, errors.New("configuration object " + s.Pool + "/" + s.Object + " is empty")
	}

	var cfg Config

	err = json.Unmarshal([]byte(output), &cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to decode %s/%s: %w", s.Pool, s.Object, err)
	}

	return &cfg, nil
}
