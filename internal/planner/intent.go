package planner

// Kind selects the operation an intent describes.
type Kind string

const (
	KindCreateRaid   Kind = "create-raid"
	KindCreateBcache Kind = "create-bcache"
	KindWipe         Kind = "wipe"
	KindFormat       Kind = "format"
	KindFstabEntry   Kind = "fstab-entry"
)

// Intent is a user-declared goal. Exactly one variant field must be set,
// selected by Kind.
type Intent struct {
	Kind   Kind          `json:"kind"`
	Raid   *RaidIntent   `json:"raid,omitempty"`
	Bcache *BcacheIntent `json:"bcache,omitempty"`
	Wipe   *WipeIntent   `json:"wipe,omitempty"`
	Format *FormatIntent `json:"format,omitempty"`
	Fstab  *FstabIntent  `json:"fstab,omitempty"`
}

// RaidIntent creates an md array from whole-disk members.
type RaidIntent struct {
	Level   int      `json:"level"` // 0 or 1
	Name    string   `json:"name"`  // md node name, defaults to md0
	Members []string `json:"members"`
}

// BcacheIntent creates a bcache device. Caching is optional; a
// backing-only device can have a cache attached later.
type BcacheIntent struct {
	Backing string `json:"backing"`
	Caching string `json:"caching,omitempty"`
}

// WipeIntent erases all filesystem/RAID/bcache signatures on a device.
// Force includes the unmount/array-stop teardown steps; without it a busy
// device is rejected outright.
type WipeIntent struct {
	Device string `json:"device"`
	Force  bool   `json:"force,omitempty"`
}

// FormatIntent creates a filesystem on a device.
type FormatIntent struct {
	Device     string `json:"device"`
	Filesystem string `json:"filesystem"` // ext4|xfs|btrfs
	Label      string `json:"label,omitempty"`
	Force      bool   `json:"force,omitempty"`
}

// FstabIntent persists a mount in /etc/fstab and mounts it. The entry is
// keyed on device+mountpoint; re-running the same intent is a no-op.
type FstabIntent struct {
	Device     string `json:"device"`
	Mountpoint string `json:"mountpoint"`
	Filesystem string `json:"filesystem"`
	Options    string `json:"options,omitempty"` // defaults to "defaults"
}
