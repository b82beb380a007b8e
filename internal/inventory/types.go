package inventory

import "time"

// Raw JSON representation from lsblk --bytes --json
type rawTree struct {
	Blockdevices []rawDevice `json:"blockdevices"`
}

type rawDevice struct {
	Name       string      `json:"name"`
	KName      string      `json:"kname"`
	Path       string      `json:"path"`
	Size       any         `json:"size"` // number (bytes) when using --bytes
	Rota       *bool       `json:"rota,omitempty"`
	Type       string      `json:"type"`
	Tran       string      `json:"tran,omitempty"`
	Vendor     string      `json:"vendor,omitempty"`
	Model      string      `json:"model,omitempty"`
	Serial     string      `json:"serial,omitempty"`
	Mountpoint *string     `json:"mountpoint,omitempty"`
	FSType     string      `json:"fstype,omitempty"`
	PTType     string      `json:"pttype,omitempty"`
	RM         *bool       `json:"rm,omitempty"`
	Children   []rawDevice `json:"children,omitempty"`
}

// Role describes what currently owns a block device.
type Role string

const (
	RoleFree          Role = "free"
	RoleMounted       Role = "mounted"
	RoleRaidMember    Role = "raid-member"
	RoleBcacheBacking Role = "bcache-backing"
	RoleBcacheCaching Role = "bcache-caching"
	// RoleHeld means a running transaction owns the device. Assigned by the
	// API layer from the executor's hold set, never by the scan itself.
	RoleHeld Role = "held"
)

// Device is a normalized block device from a single inventory scan.
type Device struct {
	Name       string  `json:"name"`
	Path       string  `json:"path"`
	SizeBytes  uint64  `json:"size"`
	Model      string  `json:"model,omitempty"`
	Serial     string  `json:"serial,omitempty"`
	Vendor     string  `json:"vendor,omitempty"`
	Rota       *bool   `json:"rota,omitempty"`
	Removable  *bool   `json:"rm,omitempty"`
	Type       string  `json:"type"`
	Tran       string  `json:"tran,omitempty"`
	FSType     string  `json:"fstype,omitempty"`
	PTType     string  `json:"pttype,omitempty"`
	Mountpoint *string `json:"mountpoint,omitempty"`
	Role       Role    `json:"role"`
	// udev enrichment, best-effort
	RPM       string `json:"rpm,omitempty"`
	LinkSpeed string `json:"link_speed,omitempty"`
}

// Snapshot is the immutable result of one scan. Devices may appear or
// disappear between snapshots; nothing is cached across calls.
type Snapshot struct {
	TakenAt time.Time `json:"taken_at"`
	Devices []Device  `json:"devices"`
	Arrays  []Array   `json:"arrays,omitempty"`
}

// ArrayOf returns the md array a device (by kernel name) belongs to.
func (s Snapshot) ArrayOf(name string) (Array, bool) {
	for _, a := range s.Arrays {
		for _, m := range a.Members {
			if m == name {
				return a, true
			}
		}
	}
	return Array{}, false
}

// ByPath returns the device with the given /dev path, if present.
func (s Snapshot) ByPath(p string) (Device, bool) {
	for _, d := range s.Devices {
		if d.Path == p {
			return d, true
		}
	}
	return Device{}, false
}

// Partition is one lsblk child entry for a specific disk.
type Partition struct {
	Name       string  `json:"name"`
	SizeBytes  uint64  `json:"size"`
	FSType     string  `json:"fstype,omitempty"`
	Mountpoint *string `json:"mountpoint,omitempty"`
}

// Array is one /proc/mdstat entry.
type Array struct {
	Name    string   `json:"name"`
	Path    string   `json:"path"`
	Level   string   `json:"level"`
	State   string   `json:"state"`
	Members []string `json:"members"`
}
