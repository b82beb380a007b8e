package planner

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dark-ant616/DarkDiskz/internal/inventory"
)

// ValidationError means the intent failed a planner precondition. Nothing
// has been executed when it is returned.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

var mdNameRe = regexp.MustCompile(`^md[0-9]+$`)

var allowedFilesystems = map[string]bool{"ext4": true, "xfs": true, "btrfs": true}

// Build translates an intent into an ordered step sequence, validated
// against the given inventory snapshot. Orderings are fixed per intent
// kind; the snapshot only gates preconditions.
func Build(intent Intent, snap inventory.Snapshot) (*Plan, error) {
	p := &Plan{
		ID:        uuid.NewString(),
		Kind:      intent.Kind,
		State:     StateDrafted,
		CreatedAt: time.Now().UTC(),
	}
	var err error
	switch intent.Kind {
	case KindCreateRaid:
		err = planRaid(p, intent.Raid, snap)
	case KindCreateBcache:
		err = planBcache(p, intent.Bcache, snap)
	case KindWipe:
		err = planWipe(p, intent.Wipe, snap)
	case KindFormat:
		err = planFormat(p, intent.Format, snap)
	case KindFstabEntry:
		err = planFstab(p, intent.Fstab, snap)
	default:
		err = validationf("unknown intent kind %q", intent.Kind)
	}
	if err != nil {
		return nil, err
	}
	p.State = StateValidated
	return p, nil
}

func planRaid(p *Plan, in *RaidIntent, snap inventory.Snapshot) error {
	if in == nil {
		return validationf("raid intent missing")
	}
	if in.Level != 0 && in.Level != 1 {
		return validationf("unsupported raid level %d (only 0 and 1)", in.Level)
	}
	members := dedupe(in.Members)
	if len(members) < 2 {
		return validationf("raid requires at least 2 distinct member devices")
	}
	name := in.Name
	if name == "" {
		name = "md0"
	}
	if !mdNameRe.MatchString(name) {
		return validationf("invalid array name %q", name)
	}
	sizes := make([]uint64, 0, len(members))
	for _, m := range members {
		d, ok := snap.ByPath(m)
		if !ok {
			return validationf("member %s not present in inventory", m)
		}
		if d.Role != inventory.RoleFree {
			return validationf("member %s is not free (role %s)", m, d.Role)
		}
		sizes = append(sizes, d.SizeBytes)
	}
	if in.Level == 1 {
		min, max := sizes[0], sizes[0]
		for _, s := range sizes[1:] {
			if s < min {
				min = s
			}
			if s > max {
				max = s
			}
		}
		if min != max {
			p.Warnings = append(p.Warnings,
				fmt.Sprintf("raid1 members differ in size; the smallest member (%d bytes) bounds array capacity", min))
		}
	}
	for i, m := range members {
		p.Steps = append(p.Steps, Step{
			ID:          fmt.Sprintf("wipefs-check-%d", i+1),
			Description: "report existing filesystem/signatures on " + m,
			Cmd:         "wipefs",
			Args:        []string{"-n", m},
			Destructive: false,
		})
	}
	for i, m := range members {
		p.Steps = append(p.Steps, Step{
			ID:          fmt.Sprintf("zero-superblock-%d", i+1),
			Description: "clear stale md superblock on " + m,
			Cmd:         "mdadm",
			Args:        []string{"--zero-superblock", m},
			Destructive: true,
			// --zero-superblock exits non-zero on members that never held one
			BestEffort: true,
		})
	}
	createArgs := []string{
		"--create", "/dev/" + name,
		"--level=" + strconv.Itoa(in.Level),
		"--raid-devices=" + strconv.Itoa(len(members)),
		"--run",
	}
	createArgs = append(createArgs, members...)
	p.Steps = append(p.Steps, Step{
		ID:          "mdadm-create",
		Description: fmt.Sprintf("create raid%d array /dev/%s", in.Level, name),
		Cmd:         "mdadm",
		Args:        createArgs,
		Destructive: true,
	})
	p.Devices = members
	return nil
}

func planBcache(p *Plan, in *BcacheIntent, snap inventory.Snapshot) error {
	if in == nil {
		return validationf("bcache intent missing")
	}
	if in.Backing == "" {
		return validationf("backing device required")
	}
	if in.Caching != "" && in.Caching == in.Backing {
		return validationf("backing and caching devices must be distinct")
	}
	devices := []string{in.Backing}
	if in.Caching != "" {
		devices = append(devices, in.Caching)
	}
	for _, dev := range devices {
		d, ok := snap.ByPath(dev)
		if !ok {
			return validationf("device %s not present in inventory", dev)
		}
		if d.Role == inventory.RoleBcacheBacking || d.Role == inventory.RoleBcacheCaching {
			return validationf("device %s is already in an active bcache role", dev)
		}
		if d.Role != inventory.RoleFree {
			return validationf("device %s is not free (role %s)", dev, d.Role)
		}
	}
	for i, dev := range devices {
		p.Steps = append(p.Steps, Step{
			ID:          fmt.Sprintf("wipefs-check-%d", i+1),
			Description: "report existing filesystem/signatures on " + dev,
			Cmd:         "wipefs",
			Args:        []string{"-n", dev},
			Destructive: false,
		})
	}
	// make-bcache registers the backing device first; with -C in the same
	// invocation the cache set is attached immediately after.
	args := []string{"-B", in.Backing}
	desc := "format bcache backing device " + in.Backing
	if in.Caching != "" {
		args = append(args, "-C", in.Caching)
		desc = fmt.Sprintf("format bcache backing %s and attach cache %s", in.Backing, in.Caching)
	}
	p.Steps = append(p.Steps, Step{
		ID:          "make-bcache",
		Description: desc,
		Cmd:         "make-bcache",
		Args:        args,
		Destructive: true,
	})
	p.Devices = devices
	return nil
}

func planWipe(p *Plan, in *WipeIntent, snap inventory.Snapshot) error {
	if in == nil {
		return validationf("wipe intent missing")
	}
	d, ok := snap.ByPath(in.Device)
	if !ok {
		return validationf("device %s not present in inventory", in.Device)
	}
	if err := planTeardown(p, d, snap, in.Force); err != nil {
		return err
	}
	p.Steps = append(p.Steps, Step{
		ID:          "wipefs-all",
		Description: "erase all signatures on " + in.Device,
		Cmd:         "wipefs",
		Args:        []string{"-a", in.Device},
		Destructive: true,
	})
	p.Devices = []string{in.Device}
	return nil
}

func planFormat(p *Plan, in *FormatIntent, snap inventory.Snapshot) error {
	if in == nil {
		return validationf("format intent missing")
	}
	if !allowedFilesystems[in.Filesystem] {
		return validationf("unsupported filesystem %q", in.Filesystem)
	}
	d, ok := snap.ByPath(in.Device)
	if !ok {
		return validationf("device %s not present in inventory", in.Device)
	}
	if err := planTeardown(p, d, snap, in.Force); err != nil {
		return err
	}
	args := []string{}
	if in.Label != "" {
		args = append(args, "-L", in.Label)
	}
	args = append(args, in.Device)
	p.Steps = append(p.Steps, Step{
		ID:          "mkfs",
		Description: fmt.Sprintf("create %s filesystem on %s", in.Filesystem, in.Device),
		Cmd:         "mkfs." + in.Filesystem,
		Args:        args,
		Destructive: true,
	})
	p.Devices = []string{in.Device}
	return nil
}

// planTeardown rejects busy devices, or emits the unmount/array-stop steps
// when the intent force-includes them.
func planTeardown(p *Plan, d inventory.Device, snap inventory.Snapshot, force bool) error {
	switch d.Role {
	case inventory.RoleMounted:
		if !force {
			return validationf("device %s is mounted; set force to include an unmount step", d.Path)
		}
		p.Steps = append(p.Steps, Step{
			ID:          "umount",
			Description: "unmount " + d.Path,
			Cmd:         "umount",
			Args:        []string{d.Path},
			Destructive: true,
		})
	case inventory.RoleRaidMember:
		if !force {
			return validationf("device %s is an active raid member; set force to include an array stop step", d.Path)
		}
		arr, ok := snap.ArrayOf(d.Name)
		if !ok {
			return validationf("device %s is a raid member of an unknown array", d.Path)
		}
		p.Steps = append(p.Steps, Step{
			ID:          "mdadm-stop",
			Description: "stop array " + arr.Path,
			Cmd:         "mdadm",
			Args:        []string{"--stop", arr.Path},
			Destructive: true,
		})
	case inventory.RoleBcacheBacking, inventory.RoleBcacheCaching:
		if !force {
			return validationf("device %s is attached to a bcache set; set force to include a detach step", d.Path)
		}
		p.Steps = append(p.Steps, Step{
			ID:          "bcache-detach",
			Description: "detach " + d.Path + " from its bcache set",
			Cmd:         CmdBcacheDetach,
			Args:        []string{d.Path},
			Destructive: true,
		})
		p.Steps = append(p.Steps, Step{
			ID:          "udev-settle",
			Description: "wait for device events to settle",
			Cmd:         "udevadm",
			Args:        []string{"settle"},
			Destructive: false,
		})
	}
	return nil
}

func planFstab(p *Plan, in *FstabIntent, snap inventory.Snapshot) error {
	if in == nil {
		return validationf("fstab intent missing")
	}
	if !strings.HasPrefix(in.Device, "/dev/") || strings.ContainsAny(in.Device, " \t\n") {
		return validationf("invalid device %q", in.Device)
	}
	if !path.IsAbs(in.Mountpoint) {
		return validationf("mountpoint must be an absolute path")
	}
	if !allowedFilesystems[in.Filesystem] {
		return validationf("unsupported filesystem %q", in.Filesystem)
	}
	opts := in.Options
	if opts == "" {
		opts = "defaults"
	}
	p.Steps = append(p.Steps, Step{
		ID:          "blkid-uuid",
		Description: "read filesystem UUID of " + in.Device,
		Cmd:         "blkid",
		Args:        []string{"-s", "UUID", "-o", "value", in.Device},
		Destructive: false,
		// a device without a UUID falls back to its path in the entry
		BestEffort: true,
	})
	p.Steps = append(p.Steps, Step{
		ID:          "mkdir-mountpoint",
		Description: "create mountpoint " + in.Mountpoint,
		Cmd:         "mkdir",
		Args:        []string{"-p", in.Mountpoint},
		Destructive: true,
	})
	p.Steps = append(p.Steps, Step{
		ID:          "fstab-ensure",
		Description: fmt.Sprintf("ensure fstab entry for %s at %s", in.Device, in.Mountpoint),
		Cmd:         CmdFstabEnsure,
		Args:        []string{in.Device, in.Mountpoint, in.Filesystem, opts},
		Destructive: true,
	})
	p.Steps = append(p.Steps, Step{
		ID:          "mount-all",
		Description: "mount all fstab entries",
		Cmd:         "mount",
		Args:        []string{"-a"},
		Destructive: true,
	})
	p.Devices = []string{in.Device}
	return nil
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
