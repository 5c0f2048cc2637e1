// Package fencing removes stale cluster blacklist entries for this host's
// own addresses at daemon startup.
package fencing

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// confirmation is the phrase the cluster tool prints when an entry was
// actually removed. Any other response means the entry is still in place.
const confirmation = "un-blacklisting"

// Registry is the cluster fencing registry. List returns the raw
// newline-delimited listing; Remove returns the tool's textual response for
// the given entry token.
type Registry interface {
	List(ctx context.Context) (string, error)
	Remove(ctx context.Context, token string) (string, error)
}

// Entry is one fencing record as reported by the registry.
type Entry struct {
	// Token is the "ip:port/nonce" identifier used to address the entry.
	Token string

	// Timestamp is the expiry time reported alongside the token.
	Timestamp string
}

// Address returns the IP portion of the entry token.
func (e Entry) Address() string {
	addr, _, _ := strings.Cut(e.Token, ":")

	return addr
}

// ParseListing splits the raw registry listing into entries. The first line
// is a count header and is skipped; each remaining non-empty line holds a
// token followed by a timestamp.
func ParseListing(raw string) []Entry {
	entries := []Entry{}

	lines := strings.Split(raw, "\n")
	if len(lines) <= 1 {
		return entries
	}

	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		entry := Entry{Token: fields[0]}
		if len(fields) > 1 {
			entry.Timestamp = strings.Join(fields[1:], " ")
		}

		entries = append(entries, entry)
	}

	return entries
}

// CleanupError is a fatal failure to clean up this host's fencing entries.
type CleanupError struct {
	Err error
}

func (e CleanupError) Error() string {
	return "fencing cleanup failed: " + e.Err.Error()
}

func (e CleanupError) Unwrap() error {
	return e.Err
}

// Cleaner removes the fencing entries belonging to this host.
type Cleaner struct {
	Registry   Registry
	LocalAddrs []string
}

// Clean lists all fencing entries and removes every one whose address
// matches a local interface address. It fails if the listing fails or if any
// matched removal fails; having nothing to remove is fine.
func (c *Cleaner) Clean(ctx context.Context) error {
	raw, err := c.Registry.List(ctx)
	if err != nil {
		return CleanupError{Err: err}
	}

	local := make(map[string]struct{}, len(c.LocalAddrs))
	for _, addr := range c.LocalAddrs {
		local[addr] = struct{}{}
	}

	var failures []error

	for _, entry := range ParseListing(raw) {
		_, ok := local[entry.Address()]
		if !ok {
			continue
		}

		slog.Info("Removing stale fencing entry", "entry", entry.Token)

		response, err := c.Registry.Remove(ctx, entry.Token)
		if err != nil {
			failures = append(failures, err)

			continue
		}

		if !strings.Contains(response, confirmation) {
			slog.Error("Fencing entry was not removed, manual intervention required", "entry", entry.Token, "response", strings.TrimSpace(response))
			failures = append(failures, errors.New("entry "+entry.Token+" was not removed"))
		}
	}

	if len(failures) > 0 {
		return CleanupError{Err: errors.Join(failures...)}
	}

	return nil
}
