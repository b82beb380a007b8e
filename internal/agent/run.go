package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

type RunStep struct {
	Cmd  string   `json:"cmd"`
	Args []string `json:"args"`
}

type RunRequest struct {
	Steps []RunStep `json:"steps"`
}

type RunResult struct {
	Code   int    `json:"code"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Array creation can take a while on slow disks; everything else is
// comfortably inside this.
const stepTimeout = 5 * time.Minute

// handleRun executes a small allowlisted set of commands without a
// shell, stopping at the first non-zero exit.
func handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Steps) == 0 || len(req.Steps) > 32 {
		writeErr(w, http.StatusBadRequest, "invalid steps")
		return
	}
	results := make([]RunResult, 0, len(req.Steps))
	for _, s := range req.Steps {
		if !allowedCommand(s.Cmd, s.Args) {
			writeErr(w, http.StatusBadRequest, "command not allowed")
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), stepTimeout)
		defer cancel()
		cmd := exec.CommandContext(ctx, s.Cmd, s.Args...)
		cmd.Env = []string{"PATH=/usr/sbin:/usr/bin:/sbin:/bin", "LANG=C", "LC_ALL=C"}
		var stdoutBuf, stderrBuf bytes.Buffer
		cmd.Stdout = &stdoutBuf
		cmd.Stderr = &stderrBuf
		err := cmd.Run()
		res := RunResult{Stdout: stdoutBuf.String(), Stderr: truncate(stderrBuf.String(), 4096)}
		if err != nil {
			if ee, ok := err.(*exec.ExitError); ok {
				res.Code = ee.ExitCode()
			} else {
				res.Code = -1
			}
		}
		results = append(results, res)
		if res.Code != 0 {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

var mdPathRe = regexp.MustCompile(`^/dev/md[0-9]+$`)

func allowedCommand(name string, args []string) bool {
	switch strings.TrimSpace(name) {
	case "wipefs":
		// wipefs -n|-a <device>
		if len(args) != 2 || (args[0] != "-n" && args[0] != "-a") {
			return false
		}
		return validDevice(args[1])
	case "mdadm":
		return allowedMdadm(args)
	case "make-bcache":
		// make-bcache -B <backing> [-C <cache>]
		if len(args) != 2 && len(args) != 4 {
			return false
		}
		if args[0] != "-B" || !validDevice(args[1]) {
			return false
		}
		if len(args) == 4 {
			return args[2] == "-C" && validDevice(args[3])
		}
		return true
	case "mkfs.ext4", "mkfs.xfs", "mkfs.btrfs":
		// mkfs.<fs> [-L <label>] <device>
		switch len(args) {
		case 1:
			return validDevice(args[0])
		case 3:
			return args[0] == "-L" && validLabel(args[1]) && validDevice(args[2])
		}
		return false
	case "mount":
		// only "mount -a"; specific mounts go through fstab
		return len(args) == 1 && args[0] == "-a"
	case "umount":
		if len(args) != 1 {
			return false
		}
		return validDevice(args[0]) || filepath.IsAbs(args[0]) && !strings.ContainsAny(args[0], " \t\n\r\x00")
	case "blkid":
		// blkid -s UUID -o value <device>
		if len(args) != 5 {
			return false
		}
		if args[0] != "-s" || args[1] != "UUID" || args[2] != "-o" || args[3] != "value" {
			return false
		}
		return validDevice(args[4])
	case "mkdir":
		// mkdir -p <abs path>
		if len(args) != 2 || args[0] != "-p" {
			return false
		}
		return filepath.IsAbs(args[1]) && !strings.ContainsAny(args[1], " \t\n\r\x00")
	case "udevadm":
		return len(args) == 1 && args[0] == "settle"
	default:
		return false
	}
}

func allowedMdadm(args []string) bool {
	if len(args) == 0 {
		return false
	}
	switch args[0] {
	case "--zero-superblock":
		return len(args) == 2 && validDevice(args[1])
	case "--stop", "--detail":
		return len(args) == 2 && mdPathRe.MatchString(args[1])
	case "--create":
		// mdadm --create /dev/mdN --level=L --raid-devices=K --run <members...>
		if len(args) < 6 || !mdPathRe.MatchString(args[1]) {
			return false
		}
		if !strings.HasPrefix(args[2], "--level=") || !strings.HasPrefix(args[3], "--raid-devices=") {
			return false
		}
		lvl := strings.TrimPrefix(args[2], "--level=")
		if lvl != "0" && lvl != "1" {
			return false
		}
		if args[4] != "--run" {
			return false
		}
		for _, d := range args[5:] {
			if !validDevice(d) {
				return false
			}
		}
		return true
	}
	return false
}

func validDevice(p string) bool {
	return strings.HasPrefix(p, "/dev/") && !strings.ContainsAny(p, " \t\n\r\x00")
}

func validLabel(s string) bool {
	return s != "" && len(s) <= 64 && !strings.ContainsAny(s, " \t\n\r\x00/")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
