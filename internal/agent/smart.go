package agent

import (
	"encoding/json"
	"net/http"
	"os/exec"
)

// test seam
var smartctlOutput = func(args ...string) ([]byte, error) {
	return exec.Command("smartctl", args...).Output()
}

// handleSmart returns raw `smartctl -j` output for a device; parsing
// stays on the daemon side.
func handleSmart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	dev := r.URL.Query().Get("device")
	if !validDevice(dev) {
		writeErr(w, http.StatusBadRequest, "invalid device")
		return
	}
	out, err := smartctlOutput("-H", "-A", "-j", dev)
	if err != nil {
		// Some drives only answer with an explicit NVMe hint.
		out, err = smartctlOutput("-H", "-A", "-j", "-d", "nvme", dev)
	}
	if err != nil && len(out) == 0 {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

type smartTestRequest struct {
	Device string `json:"device"`
	Type   string `json:"type"`
}

// handleSmartTest kicks off a drive self-test. smartctl returns right
// away; the test runs inside the drive.
func handleSmartTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req smartTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !validDevice(req.Device) {
		writeErr(w, http.StatusBadRequest, "invalid device")
		return
	}
	if req.Type != "short" && req.Type != "long" {
		writeErr(w, http.StatusBadRequest, "invalid test type")
		return
	}
	if out, err := smartctlOutput("-t", req.Type, req.Device); err != nil {
		writeErr(w, http.StatusInternalServerError, string(out))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"started": true})
}
