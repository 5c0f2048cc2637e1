// Package lio drives the kernel target through the targetcli tool, using
// the configfs tree to check what already exists.
package lio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lxc/incus/v6/shared/revert"
	"github.com/lxc/incus/v6/shared/subprocess"

	"github.com/iscsi-gateway/iscsi-gwd/internal/gateway"
)

// DefaultConfigFS is where the kernel target framework exposes its state.
const DefaultConfigFS = "/sys/kernel/config/target"

// Admin implements the gateway.TargetAdmin contract.
type Admin struct {
	// ConfigFS is the root of the kernel target configfs tree.
	ConfigFS string
}

// NewAdmin returns an Admin using the default configfs location.
func NewAdmin() *Admin {
	return &Admin{ConfigFS: DefaultConfigFS}
}

// TPGCount returns the number of target-portal-groups currently defined for
// the target. A missing target counts as zero.
func (a *Admin) TPGCount(iqn string) (int, error) {
	entries, err := os.ReadDir(filepath.Join(a.ConfigFS, "iscsi", iqn))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, err
	}

	count := 0

	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), "tpgt_") {
			count++
		}
	}

	return count, nil
}

// DefineTarget creates or updates the target, its TPGs and their portals.
// TPGs follow the portal IP list order so the same tag maps to the same IP
// on every gateway. When def.EnablePortal is false the enabled TPG's portal
// IP is left unbound; a failed creation removes the partial target.
func (a *Admin) DefineTarget(ctx context.Context, def gateway.TargetDef) error {
	reverter := revert.New()
	defer reverter.Fail()

	if !a.targetExists(def.IQN) {
		_, err := subprocess.RunCommandContext(ctx, "targetcli", "/iscsi", "create", def.IQN)
		if err != nil {
			return err
		}

		reverter.Add(func() {
			_, _ = subprocess.RunCommandContext(context.Background(), "targetcli", "/iscsi", "delete", def.IQN)
		})
	}

	for i, ip := range def.PortalIPs {
		err := a.ensureTPG(ctx, def, i+1, ip)
		if err != nil {
			return err
		}
	}

	reverter.Success()

	return nil
}

// ensureTPG creates the TPG with the given tag if needed and settles its
// portal and enablement state.
func (a *Admin) ensureTPG(ctx context.Context, def gateway.TargetDef, tag int, ip string) error {
	tpg := fmt.Sprintf("/iscsi/%s/tpg%d", def.IQN, tag)

	if !a.tpgExists(def.IQN, tag) {
		_, err := subprocess.RunCommandContext(ctx, "targetcli", "/iscsi/"+def.IQN, "create", strconv.Itoa(tag))
		if err != nil && !strings.Contains(err.Error(), "exists") {
			return err
		}
	}

	if ip == def.ActivePortalIP {
		_, err := subprocess.RunCommandContext(ctx, "targetcli", tpg, "enable")
		if err != nil {
			return err
		}

		if def.EnablePortal {
			return a.ensurePortal(ctx, def.IQN, tag, ip)
		}

		return nil
	}

	err := a.ensurePortal(ctx, def.IQN, tag, ip)
	if err != nil {
		return err
	}

	_, err = subprocess.RunCommandContext(ctx, "targetcli", tpg, "disable")
	if err != nil {
		return err
	}

	// With sendtargets disabled on the inactive TPGs, discovery against any
	// single gateway still returns every portal.
	_, err = subprocess.RunCommandContext(ctx, "targetcli", tpg, "set", "attribute", "tpg_enabled_sendtargets=0")

	return err
}

// ensurePortal binds ip to the TPG unless already bound.
func (a *Admin) ensurePortal(ctx context.Context, iqn string, tag int, ip string) error {
	np := filepath.Join(a.ConfigFS, "iscsi", iqn, fmt.Sprintf("tpgt_%d", tag), "np", ip+":3260")

	_, err := os.Stat(np)
	if err == nil {
		return nil
	}

	_, err = subprocess.RunCommandContext(ctx, "targetcli", fmt.Sprintf("/iscsi/%s/tpg%d/portals", iqn, tag), "create", ip, "3260")
	if err != nil && !strings.Contains(err.Error(), "exists") {
		return err
	}

	return nil
}

// RegisterLUN registers the block backstore for pool/image. Repeat
// registrations are no-ops; size is taken from the device, never resized.
func (a *Admin) RegisterLUN(ctx context.Context, pool string, image string, device string) error {
	name := pool + "." + image

	if a.backstoreExists(name) {
		return nil
	}

	_, err := subprocess.RunCommandContext(ctx, "targetcli", "/backstores/block", "create", name, device)
	if err != nil && !strings.Contains(err.Error(), "exists") {
		return err
	}

	return nil
}

// MapLUNs maps every registered backstore to every TPG of the target,
// skipping mappings that already exist.
func (a *Admin) MapLUNs(ctx context.Context, iqn string) error {
	backstores, err := a.listBackstores()
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(filepath.Join(a.ConfigFS, "iscsi", iqn))
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "tpgt_") {
			continue
		}

		tag, err := strconv.Atoi(strings.TrimPrefix(entry.Name(), "tpgt_"))
		if err != nil {
			continue
		}

		for _, store := range backstores {
			if a.lunMapped(iqn, tag, store.name) {
				continue
			}

			// The TPG LUN id is the backstore's HBA number, so every
			// gateway exports the same image under the same id.
			_, err := subprocess.RunCommandContext(ctx, "targetcli", fmt.Sprintf("/iscsi/%s/tpg%d/luns", iqn, tag), "create", "/backstores/block/"+store.name, strconv.Itoa(store.id))
			if err != nil && !strings.Contains(err.Error(), "exists") {
				return err
			}
		}
	}

	return nil
}

// EnsureClient creates or updates the initiator's NodeACL on the enabled
// TPG, with its CHAP credentials and granted LUNs.
func (a *Admin) EnsureClient(ctx context.Context, def gateway.ClientDef) error {
	acls := fmt.Sprintf("/iscsi/%s/tpg%d/acls", def.TargetIQN, def.TPG)
	aclDir := filepath.Join(a.ConfigFS, "iscsi", def.TargetIQN, fmt.Sprintf("tpgt_%d", def.TPG), "acls", def.InitiatorIQN)

	_, err := os.Stat(aclDir)
	if err != nil {
		_, err = subprocess.RunCommandContext(ctx, "targetcli", acls, "create", def.InitiatorIQN)
		if err != nil && !strings.Contains(err.Error(), "exists") {
			return err
		}
	}

	user, password, ok := strings.Cut(def.Chap, "/")
	if !ok {
		return errors.New("client " + def.InitiatorIQN + " has malformed chap credentials")
	}

	_, err = subprocess.RunCommandContext(ctx, "targetcli", acls+"/"+def.InitiatorIQN, "set", "auth", "userid="+user, "password="+password)
	if err != nil {
		return err
	}

	for _, id := range def.LUNIDs {
		_, err := os.Stat(filepath.Join(aclDir, fmt.Sprintf("lun_%d", id)))
		if err == nil {
			continue
		}

		_, err = subprocess.RunCommandContext(ctx, "targetcli", acls+"/"+def.InitiatorIQN, "create", strconv.Itoa(id), strconv.Itoa(id))
		if err != nil && !strings.Contains(err.Error(), "exists") {
			return err
		}
	}

	return nil
}

// EnableActivePortal binds the portal IP to the enabled TPG. This is the
// final activation step on first boot.
func (a *Admin) EnableActivePortal(ctx context.Context, iqn string, tpg int, ip string) error {
	return a.ensurePortal(ctx, iqn, tpg, ip)
}

// DropTarget removes the target and everything under it. New I/O fails
// immediately; nothing waits for in-flight I/O to drain.
func (a *Admin) DropTarget(ctx context.Context, iqn string) error {
	if !a.targetExists(iqn) {
		return nil
	}

	_, err := subprocess.RunCommandContext(ctx, "targetcli", "/iscsi", "delete", iqn)

	return err
}

// DropLUNMaps removes every registered block backstore, without forcing.
func (a *Admin) DropLUNMaps(ctx context.Context) error {
	backstores, err := a.listBackstores()
	if err != nil {
		return err
	}

	var failures []error

	for _, store := range backstores {
		_, err := subprocess.RunCommandContext(ctx, "targetcli", "/backstores/block", "delete", store.name)
		if err != nil {
			failures = append(failures, err)
		}
	}

	return errors.Join(failures...)
}

func (a *Admin) targetExists(iqn string) bool {
	_, err := os.Stat(filepath.Join(a.ConfigFS, "iscsi", iqn))

	return err == nil
}

func (a *Admin) tpgExists(iqn string, tag int) bool {
	_, err := os.Stat(filepath.Join(a.ConfigFS, "iscsi", iqn, fmt.Sprintf("tpgt_%d", tag)))

	return err == nil
}

// backstoreExists checks for a block storage object with the given name.
func (a *Admin) backstoreExists(name string) bool {
	matches, err := filepath.Glob(filepath.Join(a.ConfigFS, "core", "iblock_*", name))

	return err == nil && len(matches) > 0
}

// backstore is one registered block storage object. The id is the number of
// the iblock HBA holding it, which doubles as the object's TPG LUN id.
type backstore struct {
	name string
	id   int
}

// listBackstores returns all registered block storage objects.
func (a *Admin) listBackstores() ([]backstore, error) {
	hbas, err := filepath.Glob(filepath.Join(a.ConfigFS, "core", "iblock_*"))
	if err != nil {
		return nil, err
	}

	backstores := []backstore{}

	for _, hba := range hbas {
		id, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(hba), "iblock_"))
		if err != nil {
			continue
		}

		entries, err := os.ReadDir(hba)
		if err != nil {
			return nil, err
		}

		for _, entry := range entries {
			if entry.IsDir() {
				backstores = append(backstores, backstore{name: entry.Name(), id: id})
			}
		}
	}

	return backstores, nil
}

// lunMapped checks whether the storage object is already mapped to the TPG.
func (a *Admin) lunMapped(iqn string, tag int, name string) bool {
	lunRoot := filepath.Join(a.ConfigFS, "iscsi", iqn, fmt.Sprintf("tpgt_%d", tag), "lun")

	luns, err := os.ReadDir(lunRoot)
	if err != nil {
		return false
	}

	for _, lun := range luns {
		entries, err := os.ReadDir(filepath.Join(lunRoot, lun.Name()))
		if err != nil {
			continue
		}

		for _, entry := range entries {
			if entry.Name() == name {
				return true
			}
		}
	}

	return false
}
