package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/dark-ant616/DarkDiskz/pkg/shell"
)

// ProbeError wraps a failure of an enumeration tool. Callers surface it as
// "unknown" state; it never carries partial results.
type ProbeError struct {
	Tool string
	Err  error
}

func (e *ProbeError) Error() string { return fmt.Sprintf("probe %s: %v", e.Tool, e.Err) }
func (e *ProbeError) Unwrap() error { return e.Err }

const lsblkColumns = "NAME,KNAME,PATH,SIZE,ROTA,TYPE,TRAN,VENDOR,MODEL,SERIAL,MOUNTPOINT,FSTYPE,PTTYPE,RM"

// List scans block devices and returns a fresh snapshot. Roles are derived
// from the same scan plus /proc/mdstat and sysfs; no state is kept between
// calls.
func List(ctx context.Context) (Snapshot, error) {
	if _, err := exec.LookPath("lsblk"); err != nil {
		return Snapshot{}, &ProbeError{Tool: "lsblk", Err: err}
	}
	args := []string{"--bytes", "--json", "-o", lsblkColumns}
	res, err := shell.Run(ctx, 5*time.Second, "lsblk", args...)
	if err != nil {
		return Snapshot{}, &ProbeError{Tool: "lsblk", Err: err}
	}
	var tree rawTree
	if err := json.Unmarshal(res.Stdout, &tree); err != nil {
		return Snapshot{}, &ProbeError{Tool: "lsblk", Err: fmt.Errorf("json: %w", err)}
	}
	snap := buildSnapshot(tree, readMdstat(), sysBcacheBacking)
	for i := range snap.Devices {
		enrichFromUdev(ctx, &snap.Devices[i])
	}
	return snap, nil
}

// buildSnapshot normalizes the lsblk tree and assigns roles. Split out from
// List so fixtures can drive it in tests.
func buildSnapshot(t rawTree, mdstat []byte, bcacheBacking func(name string) bool) Snapshot {
	arrays := parseMdstat(mdstat)
	raidMembers := memberSet(arrays)
	snap := Snapshot{TakenAt: time.Now().UTC(), Arrays: arrays}
	for _, bd := range t.Blockdevices {
		if bd.Type != "disk" {
			continue
		}
		d := Device{
			Name:       bd.Name,
			Path:       firstNonEmpty(bd.Path, "/dev/"+bd.Name),
			SizeBytes:  normalizeSize(bd.Size),
			Model:      strings.TrimSpace(bd.Model),
			Serial:     strings.TrimSpace(bd.Serial),
			Vendor:     strings.TrimSpace(bd.Vendor),
			Rota:       bd.Rota,
			Removable:  bd.RM,
			Type:       bd.Type,
			Tran:       bd.Tran,
			FSType:     bd.FSType,
			PTType:     bd.PTType,
			Mountpoint: bd.Mountpoint,
		}
		d.Role = deriveRole(bd, raidMembers, bcacheBacking)
		snap.Devices = append(snap.Devices, d)
	}
	return snap
}

func deriveRole(bd rawDevice, raidMembers map[string]bool, bcacheBacking func(string) bool) Role {
	if raidMembers[bd.Name] || anyChild(bd, func(c rawDevice) bool { return raidMembers[c.Name] }) {
		return RoleRaidMember
	}
	if bcacheBacking != nil && bcacheBacking(bd.Name) {
		return RoleBcacheBacking
	}
	if bd.FSType == "bcache" {
		return RoleBcacheCaching
	}
	if bd.Mountpoint != nil || anyChild(bd, func(c rawDevice) bool { return c.Mountpoint != nil }) {
		return RoleMounted
	}
	return RoleFree
}

func anyChild(bd rawDevice, pred func(rawDevice) bool) bool {
	for _, c := range bd.Children {
		if pred(c) || anyChild(c, pred) {
			return true
		}
	}
	return false
}

// Partitions lists the lsblk children of one disk.
func Partitions(ctx context.Context, device string) ([]Partition, error) {
	res, err := shell.Run(ctx, 5*time.Second, "lsblk", "--bytes", "--json", "-o", "NAME,MOUNTPOINT,SIZE,FSTYPE,TYPE", device)
	if err != nil {
		return nil, &ProbeError{Tool: "lsblk", Err: err}
	}
	var tree rawTree
	if err := json.Unmarshal(res.Stdout, &tree); err != nil {
		return nil, &ProbeError{Tool: "lsblk", Err: fmt.Errorf("json: %w", err)}
	}
	out := []Partition{}
	for _, bd := range tree.Blockdevices {
		for _, c := range bd.Children {
			if c.Type != "part" {
				continue
			}
			out = append(out, Partition{
				Name:       c.Name,
				SizeBytes:  normalizeSize(c.Size),
				FSType:     c.FSType,
				Mountpoint: c.Mountpoint,
			})
		}
	}
	return out, nil
}

// BcacheDevices returns the /dev/bcacheN nodes visible to lsblk.
func BcacheDevices(ctx context.Context) ([]Device, error) {
	res, err := shell.Run(ctx, 5*time.Second, "lsblk", "--bytes", "--json", "-o", "NAME,TYPE,SIZE,MOUNTPOINT")
	if err != nil {
		return nil, &ProbeError{Tool: "lsblk", Err: err}
	}
	var tree rawTree
	if err := json.Unmarshal(res.Stdout, &tree); err != nil {
		return nil, &ProbeError{Tool: "lsblk", Err: fmt.Errorf("json: %w", err)}
	}
	out := []Device{}
	var walk func(rawDevice)
	walk = func(bd rawDevice) {
		if strings.HasPrefix(bd.Name, "bcache") {
			out = append(out, Device{
				Name:       bd.Name,
				Path:       "/dev/" + bd.Name,
				SizeBytes:  normalizeSize(bd.Size),
				Type:       bd.Type,
				Mountpoint: bd.Mountpoint,
			})
		}
		for _, c := range bd.Children {
			walk(c)
		}
	}
	for _, bd := range tree.Blockdevices {
		walk(bd)
	}
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func normalizeSize(v any) uint64 {
	switch t := v.(type) {
	case float64:
		if t < 0 {
			return 0
		}
		return uint64(t)
	case int64:
		if t < 0 {
			return 0
		}
		return uint64(t)
	case json.Number:
		n, _ := t.Int64()
		if n < 0 {
			return 0
		}
		return uint64(n)
	default:
		return 0
	}
}
