package inventory

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/dark-ant616/DarkDiskz/pkg/shell"
)

// enrichFromUdev fills RPM and link speed from udevadm properties.
// Best-effort: missing tool or odd output leaves the fields empty.
func enrichFromUdev(ctx context.Context, d *Device) {
	if _, err := exec.LookPath("udevadm"); err != nil {
		return
	}
	res, err := shell.Run(ctx, 3*time.Second, "udevadm", "info", "--query=property", "--name", d.Path)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(res.Stdout), "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch k {
		case "ID_ATA_ROTATION_RATE_RPM":
			d.RPM = v
		case "ID_ATA_SPEED", "ID_NVME_PCI_LINK_SPEED":
			d.LinkSpeed = v
		}
	}
}
