package agent

import (
	"net/http"
	"os/exec"
)

// test seam
var lsblkOutput = func(args ...string) ([]byte, error) {
	return exec.Command("lsblk", args...).Output()
}

// handleLsblk returns the raw lsblk JSON tree. The daemon normally
// runs lsblk itself; this endpoint covers deployments where the
// daemon's user cannot read every block device node.
func handleLsblk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	out, err := lsblkOutput("--bytes", "--json",
		"-o", "NAME,KNAME,PATH,SIZE,ROTA,TYPE,TRAN,VENDOR,MODEL,SERIAL,MOUNTPOINT,FSTYPE,PTTYPE,RM")
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}
