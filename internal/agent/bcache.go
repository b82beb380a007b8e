package agent

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
)

// sysDir is swapped in tests.
var sysDir = "/sys"

// handleBcacheDetach detaches a member device from its bcache set by
// writing to the holder's sysfs detach node. The holder is found the
// same way the kernel exposes it: /sys/block/bcacheN/slaves/<dev>.
// A device with no holder is already detached, which is not an error.
func handleBcacheDetach(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Device string `json:"device"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !validDevice(req.Device) {
		writeErr(w, http.StatusBadRequest, "invalid device")
		return
	}
	holder, err := bcacheHolder(filepath.Base(req.Device))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if holder == "" {
		writeJSON(w, http.StatusOK, map[string]any{"detached": false})
		return
	}
	node := filepath.Join(sysDir, "block", holder, "bcache", "detach")
	if err := os.WriteFile(node, []byte("1"), 0o200); err != nil {
		writeErr(w, http.StatusInternalServerError, "detach write: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"detached": true, "holder": holder})
}

// bcacheHolder returns the bcacheN block device that has devname as a
// slave, or "" when the device is not attached to any set.
func bcacheHolder(devname string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(sysDir, "block", "bcache*", "slaves", devname))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}
	return filepath.Base(filepath.Dir(filepath.Dir(matches[0]))), nil
}
