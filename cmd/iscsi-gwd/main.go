// Package main is used for the iscsi-gwd daemon.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/iscsi-gateway/iscsi-gwd/internal/config"
	"github.com/iscsi-gateway/iscsi-gwd/internal/fencing"
	"github.com/iscsi-gateway/iscsi-gwd/internal/gateway"
	"github.com/iscsi-gateway/iscsi-gwd/internal/host"
	"github.com/iscsi-gateway/iscsi-gwd/internal/lio"
	"github.com/iscsi-gateway/iscsi-gwd/internal/logging"
	"github.com/iscsi-gateway/iscsi-gwd/internal/rbd"
	"github.com/iscsi-gateway/iscsi-gwd/internal/settings"
)

const (
	// exitConfigRead is the status for a shared configuration read failure.
	exitConfigRead = 12

	// exitFatal is the status for a failed fencing cleanup or an aborted
	// reconciliation phase. Process supervision restarts the daemon and the
	// next pass converges from there.
	exitFatal = 16
)

var runPath = "/run/iscsi-gwd/"

var (
	flagSettings string
	flagDebug    bool
)

func main() {
	app := &cobra.Command{
		Use:   "iscsi-gwd",
		Short: "Ceph iSCSI gateway daemon",
		Long:  "iscsi-gwd applies the cluster's shared gateway configuration to the local kernel target.",

		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,

		RunE: func(_ *cobra.Command, _ []string) error {
			return run()
		},
	}

	app.Flags().StringVar(&flagSettings, "settings", settings.DefaultPath, "Path to the daemon settings file")
	app.Flags().BoolVar(&flagDebug, "debug", false, "Log debug output to the console")

	err := app.Execute()
	if err != nil {
		slog.Error(err.Error())

		// Sleep for a second to allow output buffers to flush.
		time.Sleep(1 * time.Second)

		os.Exit(exitCode(err))
	}
}

// exitCode maps the error taxonomy to the daemon's exit statuses. Failures
// outside the taxonomy (privileges, settings, logging) get the generic
// status.
func exitCode(err error) int {
	var configErr gateway.ConfigReadError

	if errors.As(err, &configErr) {
		return exitConfigRead
	}

	var cleanupErr fencing.CleanupError
	var deviceErr gateway.DeviceAttachError
	var libErr gateway.TargetLibraryError

	if errors.As(err, &cleanupErr) || errors.As(err, &deviceErr) || errors.As(err, &libErr) {
		return exitFatal
	}

	return 1
}

func run() error {
	// Check privileges.
	if os.Getuid() != 0 {
		return errors.New("iscsi-gwd must be run as root")
	}

	s, err := settings.Load(flagSettings)
	if err != nil {
		return err
	}

	closeLogs, err := logging.Setup(s.LogFile, flagDebug)
	if err != nil {
		return err
	}

	defer closeLogs()

	ctx := context.Background()

	hostname, err := host.Identity()
	if err != nil {
		return err
	}

	addrs, err := host.IPv4Addresses()
	if err != nil {
		return err
	}

	reconciler := &gateway.Reconciler{
		Host:       hostname,
		LocalAddrs: addrs,
		Store:      &config.RadosStore{Pool: s.Pool, Object: s.ConfigObject, User: s.CephUser},
		Admin:      lio.NewAdmin(),
		Probe:      &rbd.Probe{Mapper: &rbd.CLIMapper{User: s.CephUser, Wait: s.DeviceWait(), Poll: s.DevicePoll()}},
		Guard:      &gateway.Guard{},
	}

	// Stale fencing entries for this host's addresses are removed before
	// any reconciliation.
	slog.Info("Checking for stale fencing entries", "host", hostname)

	cleaner := &fencing.Cleaner{
		Registry:   &fencing.CephRegistry{User: s.CephUser},
		LocalAddrs: addrs,
	}

	err = cleaner.Clean(ctx)
	if err != nil {
		return err
	}

	// Initial reconciliation pass; the guard is clear at this point.
	err = reconciler.TryReconcile(ctx)
	if err != nil {
		return err
	}

	// Setup the control socket. It only keeps the process alive for now; a
	// control API will eventually be served here.
	err = os.Mkdir(runPath, 0o700)
	if err != nil && !os.IsExist(err) {
		return err
	}

	listenerPath := filepath.Join(runPath, "unix.socket")
	_ = os.Remove(listenerPath)

	listener, err := net.Listen("unix", listenerPath)
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler: http.NotFoundHandler(),

		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		err := server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	})

	group.Go(func() error {
		defer func() { _ = server.Close() }()

		return controlLoop(ctx, reconciler)
	})

	return group.Wait()
}

// controlLoop turns stop and reload signals into sequential commands, so a
// stop never races a reload on the same target state.
func controlLoop(ctx context.Context, reconciler *gateway.Reconciler) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGTERM, unix.SIGINT, unix.SIGHUP)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case sig := <-sigCh:
			if sig == unix.SIGHUP {
				slog.Info("Reload requested, re-applying the shared configuration")

				err := reconciler.TryReconcile(ctx)
				if err != nil {
					return err
				}

				continue
			}

			// Teardown is best effort: its failures are logged and the
			// exit status stays zero.
			slog.Info("Stop requested, tearing down the local target", "signal", sig.String())
			reconciler.Shutdown(ctx)

			return nil
		}
	}
}
