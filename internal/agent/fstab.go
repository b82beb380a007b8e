package agent

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// test seam for system dirs
var etcDir = "/etc"

// handleFstabEnsure appends or replaces an fstab line, keyed by its
// source and mountpoint fields. Repeating the same request leaves the
// file unchanged.
func handleFstabEnsure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		Line string `json:"line"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Line) == "" {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	line := strings.TrimRight(body.Line, "\n")
	fields := strings.Fields(line)
	if len(fields) < 4 {
		writeErr(w, http.StatusBadRequest, "malformed fstab line")
		return
	}
	source, mountpoint := fields[0], fields[1]

	path := filepath.Join(etcDir, "fstab")
	data := ""
	if b, err := os.ReadFile(path); err == nil {
		data = string(b)
	}
	lines := strings.Split(data, "\n")
	replaced := false
	for i, ln := range lines {
		f := strings.Fields(ln)
		if len(f) < 2 || strings.HasPrefix(f[0], "#") {
			continue
		}
		if f[0] == source && f[1] == mountpoint {
			lines[i] = line
			replaced = true
			break
		}
	}
	if !replaced {
		// drop a trailing empty element so the append stays tidy
		if n := len(lines); n > 0 && lines[n-1] == "" {
			lines = lines[:n-1]
		}
		lines = append(lines, line)
	}
	if err := writeFileAtomic(path, strings.Join(lines, "\n")+"\n"); err != nil {
		writeErr(w, http.StatusInternalServerError, fmt.Sprintf("write fstab: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true, "replaced": replaced})
}

func handleFstabRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		Contains string `json:"contains"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Contains) == "" {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	path := filepath.Join(etcDir, "fstab")
	b, err := os.ReadFile(path)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, fmt.Sprintf("read fstab: %v", err))
		return
	}
	lines := strings.Split(string(b), "\n")
	out := make([]string, 0, len(lines))
	for _, ln := range lines {
		if !strings.Contains(ln, body.Contains) {
			out = append(out, ln)
		}
	}
	if err := writeFileAtomic(path, strings.Join(out, "\n")); err != nil {
		writeErr(w, http.StatusInternalServerError, fmt.Sprintf("write fstab: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeFileAtomic(path, data string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	_ = f.Sync()
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	_ = f.Sync()
	return nil
}
