// Package gateway reconciles the local kernel target state against this
// host's slice of the shared configuration.
package gateway

import (
	"context"
	"errors"
	"log/slog"

	"github.com/iscsi-gateway/iscsi-gwd/internal/config"
	"github.com/iscsi-gateway/iscsi-gwd/internal/host"
)

// TargetDef describes the target to define during the first phase of a
// reconciliation pass.
type TargetDef struct {
	IQN            string
	PortalIPs      []string
	ActivePortalIP string

	// EnablePortal controls whether the enabled TPG gets its portal IP
	// bound during target definition. On first boot it stays false so
	// initiators can't log in before LUNs and ACLs exist.
	EnablePortal bool
}

// ClientDef describes one initiator's NodeACL on the active TPG.
type ClientDef struct {
	TargetIQN    string
	TPG          int
	InitiatorIQN string
	Chap         string
	LUNIDs       []int
}

// TargetAdmin is the narrow contract with the target-management layer. All
// operations are idempotent on re-application.
type TargetAdmin interface {
	TPGCount(iqn string) (int, error)
	DefineTarget(ctx context.Context, def TargetDef) error
	RegisterLUN(ctx context.Context, pool string, image string, device string) error
	MapLUNs(ctx context.Context, iqn string) error
	EnsureClient(ctx context.Context, def ClientDef) error
	EnableActivePortal(ctx context.Context, iqn string, tpg int, ip string) error
	DropTarget(ctx context.Context, iqn string) error
	DropLUNMaps(ctx context.Context) error
}

// Prober confirms a disk's backing device is attached before its LUN is
// registered.
type Prober interface {
	Ready(ctx context.Context, pool string, image string, device string) error
}

// Reconciler applies the shared configuration to the local target state.
type Reconciler struct {
	Host       string
	LocalAddrs []string
	Store      config.Store
	Admin      TargetAdmin
	Probe      Prober
	Guard      *Guard
}

// TryReconcile runs one reconciliation pass under the guard. A pass already
// in flight causes the request to be logged and dropped, not queued.
func (r *Reconciler) TryReconcile(ctx context.Context) error {
	if !r.Guard.TryBegin() {
		slog.Warn("Reconciliation already in progress, dropping the reload request")

		return nil
	}

	defer r.Guard.End()

	return r.reconcile(ctx)
}

// reconcile is one pass. The caller holds the guard.
func (r *Reconciler) reconcile(ctx context.Context) error {
	// The snapshot is read in full before any local state is touched.
	cfg, err := r.Store.Load(ctx)
	if err != nil {
		return ConfigReadError{Err: err}
	}

	if !cfg.HasGateways() {
		slog.Info("Shared configuration has no gateway definition, nothing to apply")

		return nil
	}

	_, ok := cfg.Gateway(r.Host)
	if !ok {
		slog.Info("Shared configuration has no entry for this host, nothing to apply", "host", r.Host)

		return nil
	}

	iqn := cfg.Gateways.IQN
	portalIPs := cfg.Gateways.IPList

	activeIP, ok := host.FirstMatch(portalIPs, r.LocalAddrs)
	if !ok {
		return TargetLibraryError{Phase: "target", Err: errors.New("gateway IP addresses provided do not match any ip on this host")}
	}

	activeTPG := 0

	for i, ip := range portalIPs {
		if ip == activeIP {
			activeTPG = i + 1

			break
		}
	}

	// A non-zero TPG count means this gateway was active before; the
	// portal IP is already bound and logins are already possible.
	count, err := r.Admin.TPGCount(iqn)
	if err != nil {
		return TargetLibraryError{Phase: "target", Err: err}
	}

	portalsActive := count > 0

	slog.Info("Reconciling target", "iqn", iqn, "active_portal", activeIP, "portals_active", portalsActive)

	err = r.Admin.DefineTarget(ctx, TargetDef{
		IQN:            iqn,
		PortalIPs:      portalIPs,
		ActivePortalIP: activeIP,
		EnablePortal:   portalsActive,
	})
	if err != nil {
		return TargetLibraryError{Phase: "target", Err: err}
	}

	for _, key := range cfg.DiskKeys() {
		disk := cfg.Disks[key]

		err = r.Probe.Ready(ctx, disk.Pool, disk.Image, disk.DMDevice)
		if err != nil {
			return DeviceAttachError{Disk: key, Err: err}
		}

		// Sizing is not handled at boot; registration only needs the
		// attached device.
		err = r.Admin.RegisterLUN(ctx, disk.Pool, disk.Image, disk.DMDevice)
		if err != nil {
			return TargetLibraryError{Phase: "lun", Err: err}
		}
	}

	err = r.Admin.MapLUNs(ctx, iqn)
	if err != nil {
		return TargetLibraryError{Phase: "map", Err: err}
	}

	// Client ACLs don't need gating on portalsActive: with the portal IP
	// still unbound, logins are blocked until the final phase.
	for _, initiator := range cfg.ClientIQNs() {
		client := cfg.Clients[initiator]

		err = r.Admin.EnsureClient(ctx, ClientDef{
			TargetIQN:    iqn,
			TPG:          activeTPG,
			InitiatorIQN: initiator,
			Chap:         client.Auth.Chap,
			LUNIDs:       client.GrantedLUNs(),
		})
		if err != nil {
			return TargetLibraryError{Phase: "client", Err: err}
		}
	}

	if !portalsActive {
		slog.Info("Enabling the active portal", "ip", activeIP, "tpg", activeTPG)

		err = r.Admin.EnableActivePortal(ctx, iqn, activeTPG, activeIP)
		if err != nil {
			return TargetLibraryError{Phase: "portal", Err: err}
		}
	}

	slog.Info("Reconciliation pass complete", "iqn", iqn)

	return nil
}

// Shutdown performs the best-effort teardown for a stop trigger. It waits
// out any in-flight reconciliation pass, then drops the local target and
// LUN mappings. Failures are logged and never affect the exit status.
func (r *Reconciler) Shutdown(ctx context.Context) {
	r.Guard.Begin()
	defer r.Guard.End()

	cfg, err := r.Store.Load(ctx)
	if err != nil {
		slog.Error("Unable to read the shared configuration during shutdown", "err", err)

		return
	}

	if !cfg.HasGateways() {
		slog.Info("Shared configuration has no gateway definition, nothing to tear down")

		return
	}

	_, ok := cfg.Gateway(r.Host)
	if !ok {
		slog.Info("Shared configuration has no entry for this host, nothing to tear down", "host", r.Host)

		return
	}

	// Dropping the target fails new I/O immediately; in-flight I/O is left
	// to the initiator multipath layer's path-failure retries.
	err = r.Admin.DropTarget(ctx, cfg.Gateways.IQN)
	if err != nil {
		slog.Error("Unable to drop the local target", "iqn", cfg.Gateways.IQN, "err", err)
	}

	err = r.Admin.DropLUNMaps(ctx)
	if err != nil {
		slog.Error("Unable to drop the local LUN mappings", "err", err)
	}

	slog.Info("Teardown complete")
}
