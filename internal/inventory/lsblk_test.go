package inventory

import (
	"encoding/json"
	"os"
	"testing"
)

func loadFixture(t *testing.T) rawTree {
	t.Helper()
	b, err := os.ReadFile("testdata/lsblk.json")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	var tree rawTree
	if err := json.Unmarshal(b, &tree); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return tree
}

func TestNormalizeSize(t *testing.T) {
	if got := normalizeSize(json.Number("8589934592")); got != 8589934592 {
		t.Fatalf("expected 8GiB, got %d", got)
	}
	if got := normalizeSize(float64(-5)); got != 0 {
		t.Fatalf("negative size should clamp to 0, got %d", got)
	}
}

func TestBuildSnapshotDisksOnly(t *testing.T) {
	snap := buildSnapshot(loadFixture(t), nil, nil)
	if len(snap.Devices) != 5 {
		t.Fatalf("expected 5 disks, got %d", len(snap.Devices))
	}
	for _, d := range snap.Devices {
		if d.Type != "disk" {
			t.Fatalf("non-disk leaked into snapshot: %s (%s)", d.Name, d.Type)
		}
	}
	if _, ok := snap.ByPath("/dev/md0"); ok {
		t.Fatalf("md array node should not appear as a disk")
	}
}

func TestRoleMountedViaChild(t *testing.T) {
	snap := buildSnapshot(loadFixture(t), nil, nil)
	d, ok := snap.ByPath("/dev/sda")
	if !ok {
		t.Fatalf("sda missing")
	}
	if d.Role != RoleMounted {
		t.Fatalf("sda has a mounted partition, expected role %q, got %q", RoleMounted, d.Role)
	}
}

func TestRoleRaidMember(t *testing.T) {
	mdstat := []byte("Personalities : [raid1]\nmd0 : active raid1 sdb[0] sdc[1]\n      1953383488 blocks super 1.2 [2/2] [UU]\n")
	snap := buildSnapshot(loadFixture(t), mdstat, nil)
	for _, name := range []string{"/dev/sdb", "/dev/sdc"} {
		d, _ := snap.ByPath(name)
		if d.Role != RoleRaidMember {
			t.Fatalf("%s: expected %q, got %q", name, RoleRaidMember, d.Role)
		}
	}
	d, _ := snap.ByPath("/dev/nvme0n1")
	if d.Role != RoleFree {
		t.Fatalf("nvme0n1 should be free, got %q", d.Role)
	}
}

func TestRoleBcache(t *testing.T) {
	backing := func(name string) bool { return name == "nvme0n1" }
	snap := buildSnapshot(loadFixture(t), nil, backing)
	d, _ := snap.ByPath("/dev/nvme0n1")
	if d.Role != RoleBcacheBacking {
		t.Fatalf("expected %q, got %q", RoleBcacheBacking, d.Role)
	}
	// sdd carries a bcache superblock but has no /sys/block bcache dir
	d, _ = snap.ByPath("/dev/sdd")
	if d.Role != RoleBcacheCaching {
		t.Fatalf("expected %q, got %q", RoleBcacheCaching, d.Role)
	}
}

func TestByPathMissing(t *testing.T) {
	snap := buildSnapshot(loadFixture(t), nil, nil)
	if _, ok := snap.ByPath("/dev/sdz"); ok {
		t.Fatalf("unexpected hit for absent device")
	}
}
