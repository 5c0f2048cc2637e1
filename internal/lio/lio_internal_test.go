package lio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testIQN = "iqn.2003-01.com.example.iscsi-gw:ceph-igw"

func mkdirs(t *testing.T, root string, dirs ...string) {
	t.Helper()

	for _, dir := range dirs {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	}
}

func TestTPGCount(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	admin := &Admin{ConfigFS: root}

	// Missing target counts as zero.
	count, err := admin.TPGCount(testIQN)
	require.NoError(t, err)
	require.Zero(t, count)

	mkdirs(t, root,
		"iscsi/"+testIQN+"/tpgt_1",
		"iscsi/"+testIQN+"/tpgt_2",
	)

	// Non-TPG entries in the target directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(root, "iscsi", testIQN, "fabric_statistics"), nil, 0o600))

	count, err = admin.TPGCount(testIQN)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestTargetAndTPGExistence(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	admin := &Admin{ConfigFS: root}

	require.False(t, admin.targetExists(testIQN))
	require.False(t, admin.tpgExists(testIQN, 1))

	mkdirs(t, root, "iscsi/"+testIQN+"/tpgt_1")

	require.True(t, admin.targetExists(testIQN))
	require.True(t, admin.tpgExists(testIQN, 1))
	require.False(t, admin.tpgExists(testIQN, 2))
}

func TestBackstores(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	admin := &Admin{ConfigFS: root}

	require.False(t, admin.backstoreExists("rbd.disk_1"))

	stores, err := admin.listBackstores()
	require.NoError(t, err)
	require.Empty(t, stores)

	mkdirs(t, root,
		"core/iblock_0/rbd.disk_1",
		"core/iblock_3/rbd.disk_2",
	)

	// Attribute files inside the HBA directory aren't storage objects.
	require.NoError(t, os.WriteFile(filepath.Join(root, "core", "iblock_0", "hba_info"), nil, 0o600))

	require.True(t, admin.backstoreExists("rbd.disk_1"))
	require.True(t, admin.backstoreExists("rbd.disk_2"))
	require.False(t, admin.backstoreExists("rbd.disk_3"))

	// The LUN id tracks the HBA number, not the listing position.
	stores, err = admin.listBackstores()
	require.NoError(t, err)
	require.ElementsMatch(t, []backstore{
		{name: "rbd.disk_1", id: 0},
		{name: "rbd.disk_2", id: 3},
	}, stores)
}

func TestLunMapped(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	admin := &Admin{ConfigFS: root}

	require.False(t, admin.lunMapped(testIQN, 1, "rbd.disk_1"))

	mkdirs(t, root, "iscsi/"+testIQN+"/tpgt_1/lun/lun_0/rbd.disk_1")

	require.True(t, admin.lunMapped(testIQN, 1, "rbd.disk_1"))
	require.False(t, admin.lunMapped(testIQN, 1, "rbd.disk_2"))
	require.False(t, admin.lunMapped(testIQN, 2, "rbd.disk_1"))
}
